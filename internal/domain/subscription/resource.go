package subscription

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResourceType names a quota-bound resource. The zero value is invalid and
// the only valid values are the package variables below.
type ResourceType struct {
	key string
}

var (
	ResourceUsers        = ResourceType{"users"}
	ResourcePatients     = ResourceType{"patients"}
	ResourceAppointments = ResourceType{"appointments"}
	ResourceStorage      = ResourceType{"storage"}
)

var resourceTypes = []ResourceType{ResourceUsers, ResourcePatients, ResourceAppointments, ResourceStorage}

func (r ResourceType) String() string { return r.key }

// ParseResourceType rejects anything outside the closed set.
func ParseResourceType(s string) (ResourceType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, r := range resourceTypes {
		if r.key == key {
			return r, nil
		}
	}
	return ResourceType{}, fmt.Errorf("unknown resource type %q", s)
}

func (r ResourceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.key)
}

func (r *ResourceType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseResourceType(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
