// Package api implements the HTTP handler layer: auth (register/login/OAuth
// redirect), user settings, the resumable-upload coordinator's HTTP front
// end, and video lookup/deletion. It is the "external collaborator" layer
// spec.md §1 explicitly keeps out of the core pipeline's algorithmic scope,
// built out here in the teacher's own handler idiom (json_helpers.go,
// cookies-free bearer auth, health_helpers.go) so the core packages have a
// process to run inside of.
package api
