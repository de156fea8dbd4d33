package config

import "reflect"

// ChangedSections lists the top-level sections that differ between a and b,
// in document order. A nil side counts as changed everywhere.
func ChangedSections(a, b *Config) []string {
	if a == nil || b == nil {
		if a == b {
			return nil
		}
		return []string{"logging", "http", "storage", "speech", "artifacts", "pipeline", "scheduler", "jobs"}
	}
	var out []string
	add := func(name string, x, y any) {
		if !reflect.DeepEqual(x, y) {
			out = append(out, name)
		}
	}
	add("logging", a.Logging, b.Logging)
	add("http", a.HTTP, b.HTTP)
	add("storage", a.Storage, b.Storage)
	add("speech", a.Speech, b.Speech)
	add("artifacts", a.Artifacts, b.Artifacts)
	add("pipeline", a.Pipeline, b.Pipeline)
	add("scheduler", a.Scheduler, b.Scheduler)
	add("jobs", a.Jobs, b.Jobs)
	return out
}
