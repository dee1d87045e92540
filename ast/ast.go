package ast

import (
	"encoding/json"
	"sort"

	"github.com/tensorlake/sdk-go/awaitable"
	"github.com/tensorlake/sdk-go/registry"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
)

const fileClassHint = "file"

// argRef is the wire shape of one positional or keyword argument: either a
// reference to a single child node (NodeID) or, for a gathered awaitable.List
// argument, the ordered ids of each item's own child node.
type argRef struct {
	NodeID      string   `json:"nid,omitempty"`
	ListNodeIDs []string `json:"flist,omitempty"`
}

type callMetadata struct {
	FunctionName             string            `json:"fn"`
	OutputSerializerOverride string            `json:"oso,omitempty"`
	Args                     []argRef          `json:"args"`
	Kwargs                   map[string]argRef `json:"kwargs"`
}

type reduceMetadata struct {
	FunctionName             string   `json:"fn"`
	OutputSerializerOverride string   `json:"oso,omitempty"`
	InputNodeIDs             []string `json:"nids"`
}

type valueMetadata struct {
	ClassHint      string `json:"cls,omitempty"`
	SerializerName string `json:"ser,omitempty"`
	ContentType    string `json:"ct,omitempty"`
	IsFile         bool   `json:"file,omitempty"`
}

// FromValue builds a leaf Value node from a plain user value, encoding it
// with serializerName unless it is a serializer.File, which bypasses the
// named codec entirely and is stored as raw bytes plus content type.
func FromValue(v any, serializerName string) (*Node, error) {
	n := newNode(KindValue, awaitable.NewID())

	if f, ok := v.(serializer.File); ok {
		n.Value = f.Data
		n.ContentType = f.ContentType
		n.ClassHint = fileClassHint
		meta, err := json.Marshal(valueMetadata{IsFile: true, ContentType: f.ContentType})
		if err != nil {
			return nil, sdkerrors.NewInternalError("ast: encoding file metadata: %v", err)
		}
		n.Metadata = meta
		return n, nil
	}

	s, err := serializer.ByName(serializerName)
	if err != nil {
		return nil, err
	}
	data, err := s.Marshal(v)
	if err != nil {
		return nil, &sdkerrors.SerializationError{Serializer: serializerName, Cause: err}
	}
	hint := serializer.ClassTokenOf(v)
	n.Value = data
	n.ClassHint = hint
	n.SerializerName = serializerName
	meta, err := json.Marshal(valueMetadata{ClassHint: hint, SerializerName: serializerName})
	if err != nil {
		return nil, sdkerrors.NewInternalError("ast: encoding value metadata: %v", err)
	}
	n.Metadata = meta
	return n, nil
}

// ToValue decodes a Value node back into a user value.
func ToValue(n *Node) (any, error) {
	if n.Kind != KindValue {
		return nil, sdkerrors.NewInternalError("ast: ToValue called on a non-value node")
	}
	var meta valueMetadata
	if err := json.Unmarshal(n.Metadata, &meta); err != nil {
		return nil, sdkerrors.NewInternalError("ast: decoding value metadata: %v", err)
	}
	if meta.IsFile {
		return serializer.File{Data: n.Value, ContentType: meta.ContentType}, nil
	}
	s, err := serializer.ByName(meta.SerializerName)
	if err != nil {
		return nil, err
	}
	v, err := s.Unmarshal(n.Value, meta.ClassHint)
	if err != nil {
		return nil, &sdkerrors.SerializationError{Serializer: meta.SerializerName, Cause: err}
	}
	return v, nil
}

// FromAwaitable builds the AST subtree rooted at v, which may be a
// *awaitable.Call, a *awaitable.Reduce, or a plain user value.
// defaultSerializerName is used only when v itself (or the lone input of a
// single-input Reduce) is a plain value; the plain arguments of a Call and
// the plain inputs of a multi-input Reduce are encoded with that function's
// own registered input serializer.
//
// A Reduce with exactly one input is not encoded as a reduce node: it
// passes straight through to its single input, mirroring the rule that a
// one-element reduction has nothing left to fold.
func FromAwaitable(v any, defaultSerializerName string) (*Node, error) {
	switch t := v.(type) {
	case *awaitable.Call:
		return fromCall(t)
	case *awaitable.Reduce:
		if len(t.Inputs) == 1 {
			return FromAwaitable(t.Inputs[0], defaultSerializerName)
		}
		return fromReduce(t)
	case *awaitable.List:
		return nil, sdkerrors.NewUsageError("ast: a gathered list cannot be encoded on its own; it must appear as a call argument")
	default:
		return FromValue(v, defaultSerializerName)
	}
}

func fromCall(c *awaitable.Call) (*Node, error) {
	fn, ok := registry.Get(c.FunctionName)
	if !ok {
		return nil, sdkerrors.NewUsageError("ast: function %q is not registered", c.FunctionName)
	}

	n := newNode(KindCall, c.ID())
	n.FunctionName = c.FunctionName

	args := make([]argRef, len(c.Args))
	for i, a := range c.Args {
		ref, err := addArgument(n, a, fn.InputSerializer)
		if err != nil {
			return nil, err
		}
		args[i] = ref
	}

	kwargs := make(map[string]argRef, len(c.Kwargs))
	for k, a := range c.Kwargs {
		ref, err := addArgument(n, a, fn.InputSerializer)
		if err != nil {
			return nil, err
		}
		kwargs[k] = ref
	}
	reorderKwargChildren(n, kwargs)

	meta, err := json.Marshal(callMetadata{
		FunctionName:             c.FunctionName,
		OutputSerializerOverride: c.OutputSerializerOverride,
		Args:                     args,
		Kwargs:                   kwargs,
	})
	if err != nil {
		return nil, sdkerrors.NewInternalError("ast: encoding call metadata: %v", err)
	}
	n.Metadata = meta
	return n, nil
}

func fromReduce(r *awaitable.Reduce) (*Node, error) {
	fn, ok := registry.Get(r.FunctionName)
	if !ok {
		return nil, sdkerrors.NewUsageError("ast: function %q is not registered", r.FunctionName)
	}

	n := newNode(KindReduce, r.ID())
	n.FunctionName = r.FunctionName

	ids := make([]string, len(r.Inputs))
	for i, in := range r.Inputs {
		child, err := FromAwaitable(in, fn.InputSerializer)
		if err != nil {
			return nil, err
		}
		n.AddChild(child)
		ids[i] = child.ID
	}

	meta, err := json.Marshal(reduceMetadata{
		FunctionName:             r.FunctionName,
		OutputSerializerOverride: r.OutputSerializerOverride,
		InputNodeIDs:             ids,
	})
	if err != nil {
		return nil, sdkerrors.NewInternalError("ast: encoding reduce metadata: %v", err)
	}
	n.Metadata = meta
	return n, nil
}

// addArgument encodes one argument value under parent (adding whatever
// child nodes result) and returns its wire reference. A *awaitable.List is
// flattened: each item becomes its own child node and the reference records
// their ids in order, with no separate list node in the tree.
func addArgument(parent *Node, v any, inputSerializerName string) (argRef, error) {
	if list, ok := v.(*awaitable.List); ok {
		ids := make([]string, len(list.Items))
		for i, item := range list.Items {
			child, err := FromAwaitable(item, inputSerializerName)
			if err != nil {
				return argRef{}, err
			}
			parent.AddChild(child)
			ids[i] = child.ID
		}
		return argRef{ListNodeIDs: ids}, nil
	}

	child, err := FromAwaitable(v, inputSerializerName)
	if err != nil {
		return argRef{}, err
	}
	parent.AddChild(child)
	return argRef{NodeID: child.ID}, nil
}

// reorderKwargChildren rebuilds n's traversal order so that, for Call
// nodes, kwarg children follow positional-arg children in sorted key order
// regardless of Go's randomized map iteration at encode time.
func reorderKwargChildren(n *Node, kwargs map[string]argRef) {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	positional := len(n.childOrder) - countRefs(kwargs)
	fixed := append([]string(nil), n.childOrder[:positional]...)
	for _, k := range keys {
		ref := kwargs[k]
		if ref.NodeID != "" {
			fixed = append(fixed, ref.NodeID)
		} else {
			fixed = append(fixed, ref.ListNodeIDs...)
		}
	}
	n.childOrder = fixed
}

func countRefs(kwargs map[string]argRef) int {
	total := 0
	for _, ref := range kwargs {
		if ref.NodeID != "" {
			total++
		} else {
			total += len(ref.ListNodeIDs)
		}
	}
	return total
}

// ToCall reconstructs an *awaitable.Call from n, resolving every argument
// reference against n's children. It succeeds only when every referenced
// child is itself a fully resolved Value node (no unresolved Call/Reduce
// descendants remain) — the tree must represent a finished computation.
func ToCall(n *Node) (*awaitable.Call, error) {
	if n.Kind != KindCall {
		return nil, sdkerrors.NewInternalError("ast: ToCall called on a non-call node")
	}
	var meta callMetadata
	if err := json.Unmarshal(n.Metadata, &meta); err != nil {
		return nil, sdkerrors.NewInternalError("ast: decoding call metadata: %v", err)
	}

	args := make([]any, len(meta.Args))
	for i, ref := range meta.Args {
		v, err := resolveRef(n, ref)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	kwargs := make(map[string]any, len(meta.Kwargs))
	for k, ref := range meta.Kwargs {
		v, err := resolveRef(n, ref)
		if err != nil {
			return nil, err
		}
		kwargs[k] = v
	}

	call := awaitable.NewCallWithID(n.ID, meta.FunctionName, args, kwargs)
	if meta.OutputSerializerOverride != "" {
		call = call.WithOutputSerializerOverride(meta.OutputSerializerOverride)
	}
	return call, nil
}

func resolveRef(n *Node, ref argRef) (any, error) {
	if len(ref.ListNodeIDs) > 0 {
		items := make([]any, len(ref.ListNodeIDs))
		for i, id := range ref.ListNodeIDs {
			child, ok := n.Children[id]
			if !ok {
				return nil, sdkerrors.NewInternalError("ast: list child %q missing from node %q", id, n.ID)
			}
			v, err := ToValue(child)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return awaitable.NewList(items...), nil
	}

	child, ok := n.Children[ref.NodeID]
	if !ok {
		return nil, sdkerrors.NewInternalError("ast: child %q missing from node %q", ref.NodeID, n.ID)
	}
	return ToValue(child)
}

// ToReduce reconstructs an *awaitable.Reduce from n, resolving every input
// against n's children, all of which must be resolved Value nodes.
func ToReduce(n *Node) (*awaitable.Reduce, error) {
	if n.Kind != KindReduce {
		return nil, sdkerrors.NewInternalError("ast: ToReduce called on a non-reduce node")
	}
	var meta reduceMetadata
	if err := json.Unmarshal(n.Metadata, &meta); err != nil {
		return nil, sdkerrors.NewInternalError("ast: decoding reduce metadata: %v", err)
	}

	inputs := make([]any, len(meta.InputNodeIDs))
	for i, id := range meta.InputNodeIDs {
		child, ok := n.Children[id]
		if !ok {
			return nil, sdkerrors.NewInternalError("ast: reduce input %q missing from node %q", id, n.ID)
		}
		v, err := ToValue(child)
		if err != nil {
			return nil, err
		}
		inputs[i] = v
	}

	return awaitable.NewReduceWithID(n.ID, meta.FunctionName, inputs), nil
}

// Walk visits root and every descendant in deterministic post-order: a
// node's children (in their recorded traversal order) are visited before
// the node itself. This is the order the wire format relies on for
// reconstructing a tree one resolved node at a time, leaves first.
func Walk(root *Node, visit func(*Node) error) error {
	for _, id := range root.childOrder {
		child, ok := root.Children[id]
		if !ok {
			continue
		}
		if err := Walk(child, visit); err != nil {
			return err
		}
	}
	return visit(root)
}

// ShallowCopy duplicates node: interior (Call/Reduce) nodes are
// re-allocated with a fresh Children map and childOrder slice, but the
// child *Node pointers themselves, and leaf Value nodes reached through
// them, are shared by reference with the original tree. This lets a caller
// rewrite one node's metadata (e.g. an output-serializer override) without
// mutating the original awaitable's subtree. Shared children keep their
// parent pointer aimed at the original node, not the clone.
func ShallowCopy(n *Node) *Node {
	if n.Kind == KindValue {
		return n
	}
	clone := &Node{
		ID:           n.ID,
		Kind:         n.Kind,
		Metadata:     n.Metadata,
		FunctionName: n.FunctionName,
		Children:     make(map[string]*Node, len(n.Children)),
		childOrder:   append([]string(nil), n.childOrder...),
	}
	for id, child := range n.Children {
		clone.Children[id] = child
	}
	return clone
}
