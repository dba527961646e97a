package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/antler-rules/antler"
)

// FactFactory builds a fact payload from a scenario step's field map.
// Unknown fields are rejected so scenario typos surface immediately.
type FactFactory func(fields map[string]any) (any, error)

// FlowSpec is one registered demo flow: how to build it and how to turn
// scenario field maps into its fact types.
type FlowSpec struct {
	Description string
	Build       func() (*antler.Flow, error)
	Facts       map[string]FactFactory
}

// Lookup returns a registered flow spec by name.
func Lookup(name string) (FlowSpec, bool) {
	fs, ok := registry[name]
	return fs, ok
}

// Names lists the registered flow names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Message is the greeting demo's single fact type.
type Message struct {
	Text string `json:"text"`
}

// Customer and Order are the order-routing demo's fact types.
type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Order struct {
	Customer string `json:"customer"`
	Total    int    `json:"total"`
	Approved bool   `json:"approved"`
}

var registry = map[string]FlowSpec{
	"greetings": {
		Description: "two-rule chain: appending to a greeting satisfies the next rule",
		Build:       buildGreetings,
		Facts: map[string]FactFactory{
			"Message": factoryFor[Message](),
		},
	},
	"orders": {
		Description: "customer/order joins with a review agenda group",
		Build:       buildOrders,
		Facts: map[string]FactFactory{
			"Customer": factoryFor[Customer](),
			"Order":    factoryFor[Order](),
		},
	},
}

func buildGreetings() (*antler.Flow, error) {
	return antler.NewFlow("greetings").
		Rule("append-world").
		Salience(10).
		When(antler.Type[Message]("m").
			Where(func(m *Message) bool { return strings.Contains(m.Text, "hello") }).
			Where(func(m *Message) bool { return !strings.Contains(m.Text, "world") })).
		Do(func(s *antler.Session, m *antler.Match) error {
			id, _ := m.FactID("m")
			_, err := s.Mutate(id, func(v any) {
				v.(*Message).Text += " world"
			})
			return err
		}).
		Rule("acknowledge").
		Salience(5).
		When(antler.Type[Message]("m").
			Where(func(m *Message) bool { return strings.Contains(m.Text, "world") })).
		Do(func(s *antler.Session, m *antler.Match) error { return nil }).
		Build()
}

func buildOrders() (*antler.Flow, error) {
	return antler.NewFlow("orders").
		Rule("approve-small").
		When(antler.Type[Order]("o").
			Where(func(o *Order) bool { return o.Total < 1000 && !o.Approved })).
		Do(func(s *antler.Session, m *antler.Match) error {
			id, _ := m.FactID("o")
			_, err := s.Mutate(id, func(v any) {
				v.(*Order).Approved = true
			})
			return err
		}).
		Rule("flag-large").
		AgendaGroup("review").
		AutoFocus().
		When(antler.Type[Order]("o").
			Where(func(o *Order) bool { return o.Total >= 1000 })).
		Do(func(s *antler.Session, m *antler.Match) error { return nil }).
		Rule("order-owner").
		Salience(-10).
		When(
			antler.Type[Customer]("c"),
			antler.Type[Order]("o").Join(func(o *Order, m *antler.Match) bool {
				c, ok := antler.Bound[Customer](m, "c")
				return ok && o.Customer == c.ID
			}),
		).
		Do(func(s *antler.Session, m *antler.Match) error { return nil }).
		Build()
}

// factoryFor builds a FactFactory that decodes the field map into *T
// through JSON, rejecting unknown fields.
func factoryFor[T any]() FactFactory {
	return func(fields map[string]any) (any, error) {
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encode fields: %w", err)
		}
		var v T
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
		return &v, nil
	}
}
