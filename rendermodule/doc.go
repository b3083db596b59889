// Package rendermodule defines the lifecycle shared by render modules and
// the services the framework hands them.
//
// A module moves through Constructed, Init, any number of Execute calls
// while it is both ready and enabled, and Shutdown. Readiness and
// enablement are independent flags: a module becomes ready when its
// resources exist and can be disabled at any time without losing them.
//
// Modules register a factory under a name, usually from an init function,
// and the framework creates them by the names listed in its configuration:
//
//	func init() {
//	    rendermodule.Register("GBufferRenderModule", func() rendermodule.RenderModule { return New() })
//	}
package rendermodule
