package breakpoint

import (
	"errors"
	"strings"
)

// ErrStoreUnavailable is returned by an AttributeStore that can not be
// accessed. Operations that hit it are aborted and leave the breakpoint
// unchanged.
var ErrStoreUnavailable = errors.New("attribute store unavailable")

// AttributeStore persists the mutable attributes of a breakpoint.
// SetAttributes must be atomic: readers see either all of the values of a
// call or none of them.
type AttributeStore interface {
	Attribute(key string, def interface{}) interface{}
	SetAttributes(attrs map[string]interface{}) error
}

// Attribute keys.
const (
	AttrEnabled                = "enabled"
	AttrSuspendPolicy          = "suspendPolicy"
	AttrHitCount               = "hitCount"
	AttrExpired                = "expired"
	AttrInstallCount           = "installCount"
	AttrCondition              = "condition"
	AttrConditionEnabled       = "conditionEnabled"
	AttrConditionSuspendOnTrue = "conditionSuspendOnTrue"
	AttrAccess                 = "access"
	AttrModification           = "modification"
	AttrEntry                  = "entry"
	AttrExit                   = "exit"
	AttrCaught                 = "caught"
	AttrUncaught               = "uncaught"
	AttrInclusionFilters       = "inclusionFilters"
	AttrExclusionFilters       = "exclusionFilters"
)

func boolAttr(store AttributeStore, key string, def bool) bool {
	switch v := store.Attribute(key, def).(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return def
}

func intAttr(store AttributeStore, key string, def int) int {
	switch v := store.Attribute(key, def).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func stringAttr(store AttributeStore, key string, def string) string {
	if v, ok := store.Attribute(key, def).(string); ok {
		return v
	}
	return def
}

// listAttr reads a comma separated list.
func listAttr(store AttributeStore, key string) []string {
	s := stringAttr(store, key, "")
	if s == "" {
		return nil
	}
	var r []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			r = append(r, f)
		}
	}
	return r
}
