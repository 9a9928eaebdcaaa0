// Package plugins hosts reference mixin plugins. It contains no runtime code
// itself; the architecture test alongside it checks every plugin subpackage.
//
// Plugins depend on mixinhost/pkg/mixinapi, mixinhost/pkg/transform and
// mixinhost/pkg/classfile only. They never see the engine, the adapters or
// any storage backend, so a plugin built against the contract keeps working
// when the host swaps those out.
package plugins
