package skills

// BundledSkill describes a built-in skill shipped with yo.
type BundledSkill struct {
	Name           string
	DefaultEnabled bool
}

// BundledCatalog is the baseline bundled skill set backing the read-only
// OAuth tools in the daemon's tool registry.
var BundledCatalog = []BundledSkill{
	{Name: "google-workspace", DefaultEnabled: false},
	{Name: "m365", DefaultEnabled: false},
}
