// Package describe loads frame graph descriptions written in HCL.
//
// A description file declares one frame graph: the presentation target,
// the resources and the passes connecting them.
//
//	format_version = "1.0"
//
//	target {
//	  format = "bgra8unorm"
//	  width  = 1280
//	  height = 720
//	}
//
//	swapchain "surface" {}
//
//	buffer "MeshBuffer" {
//	  size = 65536
//	}
//
//	pass "UploadMeshData" {
//	  queue = "transfer"
//	  output "MeshBuffer" { purpose = "transfer_write" }
//	}
//
// Resource and pass attributes are evaluated with the target in scope, so
// an image can be sized as target.width / 2. The optional state attribute
// holds any value; its JSON encoding becomes part of the cache key.
package describe
