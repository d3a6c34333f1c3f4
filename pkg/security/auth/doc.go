/*
Package auth authenticates API callers by key and checks their roles.

Each configured key names a principal and the roles it holds. The principal
is what the approval endpoint records as the approver when a key resolves a
queued approval.

	validator := auth.NewAPIKeyValidator([]*auth.APIKeyInfo{
		{Key: key, Principal: "ops@example.com", Roles: []auth.Role{auth.RoleRead, auth.RoleApprove}, Enabled: true},
	})
	mw := auth.NewAPIKeyMiddleware(validator, auth.DefaultSources, nil, logger)

	r.Use(mw.Authenticate)
	r.With(mw.Require(auth.RoleApprove)).Post("/approvals/{id}", resolve)

Keys are accepted from "Authorization: Bearer <key>" and "X-API-Key" by
default.
*/
package auth
