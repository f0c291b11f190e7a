package blueprint

import (
	"strings"

	"github.com/leozw/blueprint-sot/internal/core"
)

const (
	PlaceholderTenantID     = "{{tenant_id}}"
	PlaceholderInstanceID   = "{{instance_id}}"
	PlaceholderInstanceName = "{{instance_name}}"
)

// Identity is the tenant-scoped identity of one instance.
type Identity struct {
	TenantID   string
	InstanceID string
	Name       string
}

func (id Identity) identifiers() []string {
	var out []string
	for _, s := range []string{id.TenantID, id.InstanceID} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Scrub returns a copy of p with the identifiers of id replaced by
// placeholders.
func Scrub(p *core.PayloadV1, id Identity) *core.PayloadV1 {
	var pairs []string
	if id.TenantID != "" {
		pairs = append(pairs, id.TenantID, PlaceholderTenantID)
	}
	if id.InstanceID != "" {
		pairs = append(pairs, id.InstanceID, PlaceholderInstanceID)
	}
	// At equal positions the replacer prefers earlier pairs, so the longer
	// identifier must come first when one contains the other.
	if len(pairs) == 4 && len(pairs[2]) > len(pairs[0]) {
		pairs[0], pairs[1], pairs[2], pairs[3] = pairs[2], pairs[3], pairs[0], pairs[1]
	}

	out := rewrite(p, strings.NewReplacer(pairs...))
	out.Tenant = core.TenantInfo{
		TenantID:   PlaceholderTenantID,
		InstanceID: PlaceholderInstanceID,
		Name:       PlaceholderInstanceName,
	}
	return out
}

// Substitute fills the placeholders of a scrubbed payload with the target's
// identity.
func Substitute(p *core.PayloadV1, id Identity) *core.PayloadV1 {
	r := strings.NewReplacer(
		PlaceholderTenantID, id.TenantID,
		PlaceholderInstanceID, id.InstanceID,
		PlaceholderInstanceName, id.Name,
	)
	out := rewrite(p, r)
	out.Tenant = core.TenantInfo{TenantID: id.TenantID, InstanceID: id.InstanceID, Name: id.Name}
	return out
}

var noopReplacer = strings.NewReplacer()

// rewrite deep-copies p, applying r to every string in the payload: values,
// slugs, layouts, section types, tool keys and versions, and map keys.
func rewrite(p *core.PayloadV1, r *strings.Replacer) *core.PayloadV1 {
	out := &core.PayloadV1{
		Pages:        make(core.Pages, 0, len(p.Pages)),
		Tools:        make(core.Tools, 0, len(p.Tools)),
		FeatureFlags: make(core.FeatureFlags, len(p.FeatureFlags)),
		Tenant:       p.Tenant,
	}

	for _, page := range p.Pages {
		cp := page
		cp.Slug = r.Replace(page.Slug)
		cp.Title = r.Replace(page.Title)
		cp.Layout = r.Replace(page.Layout)
		cp.Sections = make([]core.Section, 0, len(page.Sections))
		for _, s := range page.Sections {
			cp.Sections = append(cp.Sections, core.Section{Type: r.Replace(s.Type), Props: rewriteMap(s.Props, r)})
		}
		out.Pages = append(out.Pages, cp)
	}

	for _, tool := range p.Tools {
		cp := tool
		cp.Key = r.Replace(tool.Key)
		cp.Version = r.Replace(tool.Version)
		cp.Config = rewriteMap(tool.Config, r)
		out.Tools = append(out.Tools, cp)
	}

	for k, v := range p.FeatureFlags {
		out.FeatureFlags[r.Replace(k)] = v
	}
	return out
}

func rewriteMap(m map[string]string, r *strings.Replacer) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[r.Replace(k)] = r.Replace(v)
	}
	return out
}

// residualIdentifiers reports which of ids still occur in data.
func residualIdentifiers(data []byte, ids []string) []string {
	var found []string
	s := string(data)
	for _, id := range ids {
		if strings.Contains(s, id) {
			found = append(found, id)
		}
	}
	return found
}
