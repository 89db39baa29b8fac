package openapi

import (
	"fmt"
	"reflect"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
	"github.com/shopspring/decimal"

	"github.com/tallycrm/tally/internal/model"
)

var (
	decimalType = reflect.TypeOf(decimal.Decimal{})
	stageType   = reflect.TypeOf(model.Stage(0))
)

// enums lists the closed string sets that reflection alone would render as
// plain strings.
var enums = map[reflect.Type][]interface{}{
	reflect.TypeOf(model.Role("")): {
		string(model.RoleSalesRep), string(model.RoleManager), string(model.RoleAdmin),
	},
	reflect.TypeOf(model.ActivityType("")): {
		string(model.ActivityCall), string(model.ActivityEmail), string(model.ActivityMeeting),
		string(model.ActivityTask), string(model.ActivityNote),
	},
	reflect.TypeOf(model.CampaignStatus("")): {
		string(model.CampaignDraft), string(model.CampaignScheduled), string(model.CampaignSent),
	},
	reflect.TypeOf(model.ApprovalStatus("")): {
		string(model.ApprovalPending), string(model.ApprovalApproved), string(model.ApprovalRejected),
	},
}

// readOnly names the JSON fields the server assigns.
var readOnly = map[string]bool{
	"id":            true,
	"owner_id":      true,
	"created_at":    true,
	"updated_at":    true,
	"requested_by":  true,
	"decided_by":    true,
	"decided_at":    true,
	"decision_note": true,
	"last_used":     true,
	"last_login_at": true,
	"sent_at":       true,
}

func stageEnum() []interface{} {
	out := make([]interface{}, 0, model.StageCount)
	for _, s := range model.Stages() {
		out = append(out, s.String())
	}
	return out
}

// customize patches the reflected schema for types whose JSON form differs
// from their Go kind.
func customize(name string, t reflect.Type, _ reflect.StructTag, s *openapi3.Schema) error {
	switch {
	case t == decimalType:
		s.Type = &openapi3.Types{"string"}
		s.Properties = nil
		s.Pattern = `^-?[0-9]+(\.[0-9]+)?$`
		s.Description = "Exact decimal amount"
	case t == stageType:
		s.Type = &openapi3.Types{"string"}
		s.Min, s.Max = nil, nil
		s.Enum = stageEnum()
	default:
		if values, ok := enums[t]; ok {
			s.Enum = values
		}
	}
	if readOnly[name] {
		s.ReadOnly = true
	}
	return nil
}

// schemaFor reflects v into an inline schema.
func schemaFor(v interface{}) *openapi3.Schema {
	ref, err := openapi3gen.NewSchemaRefForValue(v, nil, openapi3gen.SchemaCustomizer(customize))
	if err != nil {
		// Only cyclic types fail, and no API type is cyclic.
		panic(fmt.Sprintf("openapi: reflect %T: %v", v, err))
	}
	return ref.Value
}
