package core

import "time"

// ClientProfile is the tenant record and configuration state of one
// instance. Exports read it; imports and clone provisioning write it.
type ClientProfile struct {
	ID                int64        `json:"id" db:"id"`
	InstanceID        string       `json:"instanceId" db:"instance_id"`
	TenantID          string       `json:"tenantId" db:"tenant_id"`
	Name              string       `json:"name" db:"name"`
	AdminEmail        string       `json:"adminEmail" db:"admin_email"`
	AdminPasswordHash string       `json:"-" db:"admin_password_hash"`
	BlueprintVersion  string       `json:"blueprintVersion" db:"blueprint_version"`
	Pages             Pages        `json:"pages" db:"pages"`
	Tools             Tools        `json:"tools" db:"tools"`
	FeatureFlags      FeatureFlags `json:"featureFlags" db:"feature_flags"`
	SourceTemplateID  *int64       `json:"sourceTemplateId,omitempty" db:"source_template_id"`
	CreatedAt         time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time    `json:"updatedAt" db:"updated_at"`
}

// InstanceState is the configuration portion of a profile that a blueprint
// import replaces as a unit.
type InstanceState struct {
	BlueprintVersion string
	Pages            Pages
	Tools            Tools
	FeatureFlags     FeatureFlags
}

func (p *ClientProfile) State() InstanceState {
	return InstanceState{
		BlueprintVersion: p.BlueprintVersion,
		Pages:            p.Pages,
		Tools:            p.Tools,
		FeatureFlags:     p.FeatureFlags,
	}
}

// InstalledTools lists the keys of enabled tools in declaration order.
func (p *ClientProfile) InstalledTools() []string {
	out := make([]string, 0, len(p.Tools))
	for _, t := range p.Tools {
		if t.Enabled {
			out = append(out, t.Key)
		}
	}
	return out
}
