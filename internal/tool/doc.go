// Package tool models authored tool definitions: ordered elements with
// optional declared actions, and the connection list describing how firing
// one element cascades onto others.
//
// Tools are immutable during an execution. The package also defines the
// executable composition Graph and the Resolver contract that compiles a
// tool's declared connections into one; StaticResolver is the default
// implementation.
package tool
