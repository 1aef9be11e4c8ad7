package shared

// Ownership scopes a record to the tenant that created it. The buildable id
// doubles as every scope until finer-grained org support lands.
type Ownership struct {
	ID             string  `json:"id" bson:"id"`
	ClientID       string  `json:"clientId" bson:"clientId"`
	OrganizationID *string `json:"organizationId,omitempty" bson:"organizationId,omitempty"`
	ProjectID      *string `json:"projectId,omitempty" bson:"projectId,omitempty"`
	UserID         *string `json:"userId,omitempty" bson:"userId,omitempty"`
}

// NewOwnership fans a tenant id out into every scope field.
func NewOwnership(buildableID string) Ownership {
	id := buildableID
	return Ownership{
		ID:             id,
		ClientID:       id,
		OrganizationID: &id,
		ProjectID:      &id,
		UserID:         &id,
	}
}

// Throughput is the per-tenant rate budget within a rolling window.
type Throughput struct {
	Key   string `json:"key" bson:"key"`
	Limit uint64 `json:"limit" bson:"limit"`
}
