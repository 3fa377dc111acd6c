// Package watch notices entry points appearing in or disappearing from a
// plugin source tree. Content edits are ignored: the bundler rebuilds those
// itself. Only structural changes (create, remove, rename) are reported,
// debounced into a single callback.
package watch
