// Package source provides rule sources for the policy engine.
//
// # File Source
//
// The file source loads rules from a YAML file, or from every .yaml/.yml file
// in a directory, and watches the path with fsnotify:
//
//	src := source.NewFileSource("policies/", logger)
//	set, err := src.LoadRuleSet(ctx)
//
// # Hot-Reload
//
// Watch sends one event per debounced burst of changes. The engine reloads
// on each event and keeps the previous snapshot if the new files do not load:
//
//	events, err := src.Watch(ctx)
//	for event := range events {
//	    if event.Error != nil {
//	        continue
//	    }
//	    _ = eng.ReloadPolicies(ctx)
//	}
//
// # In-Memory Source
//
// The in-memory source holds programmatically built rules:
//
//	src := source.NewMemorySource(rules...)
package source
