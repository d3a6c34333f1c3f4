// Package action declares the actions the pipeline can perform, the fields
// each one needs before it can be signed, and the tool its policies are
// bound to.
package action
