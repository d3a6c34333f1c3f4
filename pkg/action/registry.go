package action

import (
	"fmt"
	"sort"
	"sync"

	"armouriq/armour/pkg/value"
)

// Tools the shipped actions are bound to.
const (
	ToolExecutePayment = "execute_payment"
	ToolBookTravel     = "book_travel"
)

// DefaultPriority is used for fields without a template.
const DefaultPriority = 99

// Registry maps action names to schemas. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry returns a registry holding schemas.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a schema. Registering the same action twice is an error.
func (r *Registry) Register(s *Schema) error {
	if s == nil || s.Action == "" {
		return fmt.Errorf("schema must name an action")
	}
	if s.Tool == "" {
		return fmt.Errorf("schema %s must name a tool", s.Action)
	}

	seen := make(map[string]bool)
	for _, f := range append(append([]Field{}, s.Required...), s.Optional...) {
		if f.Name == "" {
			return fmt.Errorf("schema %s has a field without a name", s.Action)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %s declares field %q twice", s.Action, f.Name)
		}
		seen[f.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[s.Action]; ok {
		return fmt.Errorf("action %s already registered", s.Action)
	}
	r.schemas[s.Action] = s
	return nil
}

// Lookup returns the schema for action.
func (r *Registry) Lookup(action string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[action]
	return s, ok
}

// Budget returns the typical budget for action.
func (r *Registry) Budget(action string) (BudgetRange, bool) {
	s, ok := r.Lookup(action)
	if !ok {
		return BudgetRange{}, false
	}
	return s.Budget, true
}

// Actions returns the registered action names, sorted.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// template holds the question text and priority for a well-known field.
type template struct {
	question  string
	whyAsking string
	priority  int
	kind      value.Kind
}

var templates = map[string]template{
	"date":            {"What date should this happen on?", "Exact dates help avoid conflicts and ensure all bookings are properly sequenced.", 1, value.KindString},
	"time":            {"What time should this be scheduled for?", "We need an exact time to create a valid booking token. This ensures proper scheduling and availability checks.", 2, value.KindString},
	"amount":          {"How much should be paid?", "The exact amount is checked against your spending limits before anything is paid.", 3, value.KindNumber},
	"price":           {"What is your budget for this?", "Budget information helps filter options and ensures we stay within your spending limits.", 3, value.KindNumber},
	"merchant":        {"Who should receive this payment?", "Payment limits depend on whether the merchant is verified.", 4, value.KindString},
	"origin":          {"Where will you depart from?", "The departure point is essential for accurate travel time and route planning.", 4, value.KindString},
	"from_location":   {"Where will you depart from?", "The departure point is essential for accurate travel time and route planning.", 4, value.KindString},
	"destination":     {"Where are you travelling to?", "The arrival location is needed to complete transportation booking and estimate costs.", 5, value.KindString},
	"to_location":     {"Where are you travelling to?", "The arrival location is needed to complete transportation booking and estimate costs.", 5, value.KindString},
	"location":        {"Where should this take place?", "A precise location ensures accurate directions and helps with making reservations.", 6, value.KindString},
	"hotel_name":      {"Which hotel would you like to stay at?", "The specific hotel name is required for making a reservation.", 7, value.KindString},
	"check_in":        {"When will you check in?", "Check-in date is required for hotel reservations.", 8, value.KindString},
	"check_out":       {"When will you check out?", "Check-out date is required to complete hotel reservation.", 9, value.KindString},
	"restaurant_name": {"Which restaurant should we book?", "Restaurant name is needed for reservation systems and availability checks.", 10, value.KindString},
	"attraction_name": {"Which attraction would you like to visit?", "The specific attraction name helps us find ticket booking information.", 11, value.KindString},
	"website":         {"Which website should we book through?", "Knowing the exact platform helps generate the correct booking URL and ensures compatibility.", 12, value.KindString},
	"travelers":       {"How many people are travelling?", "Occupancy limits depend on the number of travellers.", 13, value.KindNumber},
	"guests":          {"How many guests?", "", DefaultPriority, value.KindNumber},
	"party_size":      {"How many people are in your party?", "", DefaultPriority, value.KindNumber},
	"rating":          {"What minimum rating do you want?", "", DefaultPriority, value.KindNumber},
}

// NewField returns a field with the stock question, reason and priority for
// name. Unknown names get a generic string field.
func NewField(name string) Field {
	t, ok := templates[name]
	if !ok {
		t = template{kind: value.KindString, priority: DefaultPriority}
	}
	f := Field{
		Name:      name,
		Type:      t.kind,
		Question:  t.question,
		WhyAsking: t.whyAsking,
		Priority:  t.priority,
	}
	if f.Question == "" {
		f.Question = fmt.Sprintf("What %s should we use?", name)
	}
	if f.WhyAsking == "" {
		f.WhyAsking = fmt.Sprintf("This %s is required to generate a complete intent token.", name)
	}
	return f
}

func fields(names ...string) []Field {
	out := make([]Field, len(names))
	for i, n := range names {
		out[i] = NewField(n)
	}
	return out
}

// DefaultSchemas returns the shipped payment and travel actions.
func DefaultSchemas() []*Schema {
	return []*Schema{
		{
			Action:   "PAY_BILL",
			Tool:     ToolExecutePayment,
			Required: fields("amount", "merchant"),
			Optional: fields("currency", "description"),
			Budget:   BudgetRange{Low: 0, Medium: 2000, High: 10000, Currency: "INR"},
		},
		{
			Action:   "MAKE_PAYMENT",
			Tool:     ToolExecutePayment,
			Required: fields("amount", "merchant", "payment_method", "date", "time"),
			Optional: fields("currency", "description"),
			Budget:   BudgetRange{Low: 0, Medium: 100, High: 500, Currency: "USD"},
		},
		{
			Action:   "BOOK_FLIGHT",
			Tool:     ToolBookTravel,
			Required: fields("origin", "destination", "date", "website", "price", "travelers"),
			Optional: fields("airline", "class", "flight_number", "time"),
			Budget:   BudgetRange{Low: 100, Medium: 300, High: 800, Currency: "USD"},
		},
		{
			Action:   "BOOK_TRAIN",
			Tool:     ToolBookTravel,
			Required: fields("origin", "destination", "date", "time", "website", "price", "travelers"),
			Optional: fields("train_number", "class", "seat_type"),
			Budget:   BudgetRange{Low: 20, Medium: 80, High: 200, Currency: "USD"},
		},
		{
			Action:   "BOOK_HOTEL",
			Tool:     ToolBookTravel,
			Required: fields("hotel_name", "location", "check_in", "check_out", "website", "price", "travelers"),
			Optional: fields("room_type", "rating", "amenities"),
			Budget:   BudgetRange{Low: 50, Medium: 150, High: 400, Currency: "USD per night"},
		},
		{
			Action:   "BOOK_RESTAURANT",
			Tool:     ToolBookTravel,
			Required: fields("restaurant_name", "location", "date", "time", "website", "price", "travelers"),
			Optional: fields("cuisine", "reservation_id"),
			Budget:   BudgetRange{Low: 15, Medium: 50, High: 150, Currency: "USD per person"},
		},
		{
			Action:   "BOOK_ATTRACTION",
			Tool:     ToolBookTravel,
			Required: fields("attraction_name", "location", "date", "time", "website", "price", "travelers"),
			Optional: fields("ticket_type", "duration"),
			Budget:   BudgetRange{Low: 10, Medium: 40, High: 100, Currency: "USD"},
		},
		{
			Action:   "BOOK_TRANSPORT",
			Tool:     ToolBookTravel,
			Required: fields("transport_type", "from_location", "to_location", "date", "time", "price", "travelers"),
			Optional: fields("service_name", "vehicle_type"),
			Budget:   BudgetRange{Low: 10, Medium: 30, High: 80, Currency: "USD"},
		},
	}
}

// DefaultRegistry returns a registry with DefaultSchemas.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultSchemas()...)
	if err != nil {
		panic(fmt.Sprintf("action: invalid default schemas: %v", err))
	}
	return r
}
