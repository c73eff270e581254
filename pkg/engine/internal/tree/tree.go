// Package tree renders plans as text. Planners convert their nodes into
// [Node] values, which are printed either as an indented listing or as a
// box-drawing tree.
package tree

// Property represents a property of a [Node]. It is a key-value-pair, where
// the value is either a single value or a list of values.
// A single-value property is printed as `key=value` and a multi-value
// property as `key=(value1, value2, ...)`.
type Property struct {
	// Key is the name of the property.
	Key string
	// Values holds the value(s) of the property.
	Values []any
	// IsMultiValue marks whether the property is a multi-value property.
	IsMultiValue bool
}

// NewProperty creates a new Property with the specified key, multi-value flag, and values.
func NewProperty(key string, multi bool, values ...any) Property {
	return Property{
		Key:          key,
		Values:       values,
		IsMultiValue: multi,
	}
}

// Node is a printable plan node. Properties are printed in slice order so
// that output is stable.
type Node struct {
	// Name is the display name of the node.
	Name string
	// Properties contains the key-value properties of the node.
	Properties []Property
	// Children are child nodes of the node.
	Children []*Node
}

// NewNode creates a new node with the given name and properties.
func NewNode(name string, properties ...Property) *Node {
	return &Node{
		Name:       name,
		Properties: properties,
	}
}

// AddChild adds child as the last child of n and returns it.
func (n *Node) AddChild(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// AddProperty appends a property to n.
func (n *Node) AddProperty(p Property) {
	n.Properties = append(n.Properties, p)
}
