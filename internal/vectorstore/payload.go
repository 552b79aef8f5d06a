package vectorstore

import (
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/protobuf/types/known/structpb"
)

// Payload keys that carry the document itself rather than its metadata.
const (
	payloadContent = "content"
	payloadID      = "id"
)

func toPayload(id string, d Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		payload[k] = toValue(v)
	}
	payload[payloadContent] = stringValue(d.Content)
	payload[payloadID] = stringValue(id)
	return payload
}

// toValue keeps integers exact and routes everything else through structpb,
// which handles nested maps and slices.
func toValue(v any) *qdrant.Value {
	switch n := v.(type) {
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(n)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: n}}
	case int32:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(n)}}
	}
	sv, err := structpb.NewValue(v)
	if err != nil {
		return stringValue(fmt.Sprintf("%v", v))
	}
	return fromStructValue(sv)
}

func fromStructValue(sv *structpb.Value) *qdrant.Value {
	switch k := sv.GetKind().(type) {
	case *structpb.Value_StringValue:
		return stringValue(k.StringValue)
	case *structpb.Value_NumberValue:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: k.NumberValue}}
	case *structpb.Value_BoolValue:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: k.BoolValue}}
	case *structpb.Value_StructValue:
		fields := make(map[string]*qdrant.Value, len(k.StructValue.GetFields()))
		for name, f := range k.StructValue.GetFields() {
			fields[name] = fromStructValue(f)
		}
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}}}
	case *structpb.Value_ListValue:
		values := make([]*qdrant.Value, len(k.ListValue.GetValues()))
		for i, e := range k.ListValue.GetValues() {
			values[i] = fromStructValue(e)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{NullValue: qdrant.NullValue_NULL_VALUE}}
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func fromPayload(payload map[string]*qdrant.Value) Hit {
	var h Hit
	for k, v := range payload {
		switch k {
		case payloadContent:
			h.Content = v.GetStringValue()
			continue
		case payloadID:
			h.ID = v.GetStringValue()
			continue
		}
		if h.Metadata == nil {
			h.Metadata = make(map[string]any, len(payload))
		}
		h.Metadata[k] = fromValue(v)
	}
	return h
}

func fromValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for name, f := range k.StructValue.GetFields() {
			out[name] = fromValue(f)
		}
		return out
	case *qdrant.Value_ListValue:
		out := make([]any, len(k.ListValue.GetValues()))
		for i, e := range k.ListValue.GetValues() {
			out[i] = fromValue(e)
		}
		return out
	default:
		return nil
	}
}
