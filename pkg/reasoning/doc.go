// Package reasoning defines the reasoning step of the pipeline and ships a
// deterministic keyword implementation of it.
package reasoning
