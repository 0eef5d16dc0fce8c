package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Shape tells a legacy body from a normalized one.
type Shape int

const (
	// ShapeLegacy is a bare JSON list of records, written before bodies were
	// grouped into collections. It carries no version field.
	ShapeLegacy Shape = iota + 1

	// ShapeNormalized is a JSON object of named collections.
	ShapeNormalized
)

// RawBody is a decoded body whose shape has been resolved but not yet
// normalized for a kind.
type RawBody struct {
	Shape  Shape
	List   []Record
	Object map[string]json.RawMessage
}

// Decode resolves the shape of a raw body. Detection looks at the JSON type
// only: a list is legacy, an object is normalized.
func Decode(raw json.RawMessage) (RawBody, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return RawBody{}, fmt.Errorf("%w: empty body", ErrUnrecognizedShape)
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := decodeJSON(trimmed, &items); err != nil {
			return RawBody{}, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
		}
		list := make([]Record, 0, len(items))
		for i, item := range items {
			rec, err := decodeRecord(item)
			if err != nil {
				return RawBody{}, fmt.Errorf("%w: item %d: %v", ErrUnrecognizedShape, i, err)
			}
			list = append(list, rec)
		}
		return RawBody{Shape: ShapeLegacy, List: list}, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := decodeJSON(trimmed, &obj); err != nil {
			return RawBody{}, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
		}
		return RawBody{Shape: ShapeNormalized, Object: obj}, nil
	default:
		return RawBody{}, fmt.Errorf("%w: body is neither a list nor an object", ErrUnrecognizedShape)
	}
}

func decodeRecord(raw json.RawMessage) (Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("record is not an object")
	}
	var rec Record
	if err := decodeJSON(trimmed, &rec); err != nil {
		return nil, err
	}
	if id, ok := rec["id"].(string); !ok || id == "" {
		return nil, fmt.Errorf("record has no string id")
	}
	return rec, nil
}

func decodeRecords(raw json.RawMessage, field string) ([]Record, error) {
	if raw == nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return []Record{}, nil
	}
	var items []json.RawMessage
	if err := decodeJSON(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %s is not a list", ErrUnrecognizedShape, field)
	}
	out := make([]Record, 0, len(items))
	for i, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrUnrecognizedShape, field, i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Migrate upgrades raw to the normalized body for kind. It is pure and
// idempotent: a normalized body comes back structurally equal to its input.
// Shapes that match no known pattern fail with ErrUnrecognizedShape rather
// than being guessed at.
func Migrate(raw json.RawMessage, kind Kind) (Body, error) {
	rb, err := Decode(raw)
	if err != nil {
		return Body{}, err
	}
	return Normalize(rb, kind)
}

// Normalize converts a decoded body to the normalized body for kind.
func Normalize(rb RawBody, kind Kind) (Body, error) {
	switch kind {
	case KindSales:
		return normalizeSales(rb)
	case KindWorkforce:
		return normalizeWorkforce(rb)
	default:
		return Body{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// IsLegacy reports whether raw is a legacy bare-list body.
func IsLegacy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

var (
	salesKeys     = []string{"opportunities"}
	workforceKeys = []string{"stores", "employees", "badgeTemplates"}
)

// extraKeys returns the object members outside known, or nil.
func extraKeys(obj map[string]json.RawMessage, known []string) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for k, v := range obj {
		if containsString(known, k) {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func normalizeSales(rb RawBody) (Body, error) {
	if rb.Shape == ShapeLegacy {
		return Body{Kind: KindSales, Sales: &SalesData{Opportunities: rb.List}}, nil
	}

	raw, ok := rb.Object["opportunities"]
	if !ok {
		return Body{}, fmt.Errorf("%w: sales body has no opportunities", ErrUnrecognizedShape)
	}
	opps, err := decodeRecords(raw, "opportunities")
	if err != nil {
		return Body{}, err
	}
	return Body{Kind: KindSales, Sales: &SalesData{
		Opportunities: opps,
		Extra:         extraKeys(rb.Object, salesKeys),
	}}, nil
}

func normalizeWorkforce(rb RawBody) (Body, error) {
	if rb.Shape == ShapeLegacy {
		data, err := migrateStores(rb.List)
		if err != nil {
			return Body{}, err
		}
		return Body{Kind: KindWorkforce, Workforce: data}, nil
	}

	if _, ok := rb.Object["stores"]; !ok {
		return Body{}, fmt.Errorf("%w: workforce body has no stores", ErrUnrecognizedShape)
	}
	if _, ok := rb.Object["employees"]; !ok {
		return Body{}, fmt.Errorf("%w: workforce body has no employees", ErrUnrecognizedShape)
	}

	data := &WorkforceData{Extra: extraKeys(rb.Object, workforceKeys)}
	var err error
	if data.Stores, err = decodeRecords(rb.Object["stores"], "stores"); err != nil {
		return Body{}, err
	}
	if data.Employees, err = decodeRecords(rb.Object["employees"], "employees"); err != nil {
		return Body{}, err
	}
	if data.BadgeTemplates, err = decodeRecords(rb.Object["badgeTemplates"], "badgeTemplates"); err != nil {
		return Body{}, err
	}
	return Body{Kind: KindWorkforce, Workforce: data}, nil
}

// ---------------------------------------------------------------------------
// Workforce legacy upgrade
// ---------------------------------------------------------------------------

// Employee types.
const (
	EmployeeManager    = "manager"
	EmployeeSenior     = "senior"
	EmployeeConsultant = "consultant"
)

// Employee statuses.
const (
	StatusActive     = "active"
	StatusOnLeave    = "on_leave"
	StatusVacation   = "vacation"
	StatusTerminated = "terminated"
)

// roleRules are checked in order against the lowercased role; the first
// substring hit wins, so "senior manager" is a manager. Roles matching
// nothing fall to the lowest tier, consultant. That default is product
// policy, not something the role text proves.
var roleRules = []struct {
	substrings []string
	typ        string
}{
	{[]string{"manager", "supervisor", "gerente"}, EmployeeManager},
	{[]string{"senior", "sênior", "specialist", "especialista"}, EmployeeSenior},
}

// statusTable maps every status spelling seen in older payloads.
var statusTable = map[string]string{
	"active":     StatusActive,
	"ativo":      StatusActive,
	"on_leave":   StatusOnLeave,
	"on leave":   StatusOnLeave,
	"leave":      StatusOnLeave,
	"afastado":   StatusOnLeave,
	"vacation":   StatusVacation,
	"vacations":  StatusVacation,
	"ferias":     StatusVacation,
	"férias":     StatusVacation,
	"terminated": StatusTerminated,
	"dismissed":  StatusTerminated,
	"desligado":  StatusTerminated,
}

// employeeListFields are nested collections introduced with the normalized
// shape; legacy employees get them as empty lists.
var employeeListFields = []string{"scheduledVacations", "absenceLog", "achievements", "badges", "notes"}

// storeListFields are the same for stores.
var storeListFields = []string{"employees", "hrLogs", "visitLogs", "managementContacts", "managementInteractions"}

// Browser-era bodies used Portuguese field names. They are renamed on the
// legacy upgrade; a record that already has the English field keeps it.
var (
	legacyStoreFields = map[string]string{
		"funcionarios":       "employees",
		"logsRH":             "hrLogs",
		"logsVisitas":        "visitLogs",
		"contatosGerencia":   "managementContacts",
		"interacoesGerencia": "managementInteractions",
	}
	legacyEmployeeFields = map[string]string{
		"cargo":             "role",
		"tipo":              "type",
		"lojaAtualId":       "currentStoreId",
		"historicoLojas":    "storeHistory",
		"feriasProgramadas": "scheduledVacations",
		"logAfastamentos":   "absenceLog",
		"conquistas":        "achievements",
		"observacoes":       "notes",
	}
)

// typeTable maps stored employee type spellings.
var typeTable = map[string]string{
	"manager":    EmployeeManager,
	"gerente":    EmployeeManager,
	"senior":     EmployeeSenior,
	"sênior":     EmployeeSenior,
	"consultant": EmployeeConsultant,
	"consultor":  EmployeeConsultant,
}

// renameFields returns a copy of rec with the keys in names renamed.
func renameFields(rec Record, names map[string]string) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for from, to := range names {
		v, ok := out[from]
		if !ok {
			continue
		}
		if _, taken := out[to]; taken {
			continue
		}
		out[to] = v
		delete(out, from)
	}
	return out
}

// InferEmployeeType classifies a free-text role.
func InferEmployeeType(role string) string {
	lower := strings.ToLower(role)
	for _, rule := range roleRules {
		for _, sub := range rule.substrings {
			if strings.Contains(lower, sub) {
				return rule.typ
			}
		}
	}
	return EmployeeConsultant
}

// MigrateStatus maps an old status value. Unknown values become active.
func MigrateStatus(status string) string {
	if s, ok := statusTable[strings.ToLower(strings.TrimSpace(status))]; ok {
		return s
	}
	return StatusActive
}

func employeeType(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	t, ok := typeTable[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// migrateStores lifts employees nested in each store into their own
// collection, renaming browser-era fields on the way. An employee listed under several stores is kept once, as first
// seen; stores are kept with their nested lists.
func migrateStores(stores []Record) (*WorkforceData, error) {
	data := &WorkforceData{
		Stores:         make([]Record, 0, len(stores)),
		Employees:      []Record{},
		BadgeTemplates: []Record{},
	}
	seen := make(map[string]bool)

	for i, store := range stores {
		store = renameFields(store, legacyStoreFields)
		storeID := store["id"].(string)

		nested, err := nestedEmployees(store)
		if err != nil {
			return nil, fmt.Errorf("%w: stores[%d]: %v", ErrUnrecognizedShape, i, err)
		}

		for _, emp := range nested {
			id := emp["id"].(string)
			if seen[id] {
				continue
			}
			seen[id] = true
			data.Employees = append(data.Employees, upgradeEmployee(emp, storeID))
		}

		data.Stores = append(data.Stores, upgradeStore(store))
	}
	return data, nil
}

func nestedEmployees(store Record) ([]Record, error) {
	raw, ok := store["employees"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("employees is not a list")
	}
	out := make([]Record, 0, len(list))
	for j, item := range list {
		emp, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("employees[%d] is not an object", j)
		}
		if id, ok := emp["id"].(string); !ok || id == "" {
			return nil, fmt.Errorf("employees[%d] has no string id", j)
		}
		out = append(out, emp)
	}
	return out, nil
}

func upgradeEmployee(emp Record, storeID string) Record {
	out := renameFields(emp, legacyEmployeeFields)

	if t, ok := employeeType(out["type"]); ok {
		out["type"] = t
	} else {
		role, _ := out["role"].(string)
		out["type"] = InferEmployeeType(role)
	}

	status, _ := out["status"].(string)
	out["status"] = MigrateStatus(status)

	if id, ok := out["currentStoreId"].(string); !ok || id == "" {
		out["currentStoreId"] = storeID
	}
	if _, ok := out["storeHistory"].([]any); !ok {
		out["storeHistory"] = []any{storeID}
	}
	for _, field := range employeeListFields {
		if _, ok := out[field].([]any); !ok {
			out[field] = []any{}
		}
	}
	return out
}

func upgradeStore(store Record) Record {
	out := make(Record, len(store)+len(storeListFields))
	for k, v := range store {
		out[k] = v
	}
	for _, field := range storeListFields {
		if _, ok := out[field].([]any); !ok {
			out[field] = []any{}
		}
	}
	return out
}

// SyncEmployeesToStores rebuilds each store's nested employee list from the
// employees collection by currentStoreId, so readers that still look at
// nested employees see current data. The body is not modified.
func SyncEmployeesToStores(b Body) Body {
	if b.Workforce == nil {
		return b
	}

	byStore := make(map[string][]any)
	for _, emp := range b.Workforce.Employees {
		if storeID, ok := emp["currentStoreId"].(string); ok {
			byStore[storeID] = append(byStore[storeID], emp)
		}
	}

	stores := make([]Record, 0, len(b.Workforce.Stores))
	for _, store := range b.Workforce.Stores {
		out := make(Record, len(store))
		for k, v := range store {
			out[k] = v
		}
		id, _ := store["id"].(string)
		if emps := byStore[id]; emps != nil {
			out["employees"] = emps
		} else {
			out["employees"] = []any{}
		}
		stores = append(stores, out)
	}

	wf := *b.Workforce
	wf.Stores = stores
	return Body{Kind: b.Kind, Workforce: &wf}
}
