package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestAnswerValueTaggedEncoding(t *testing.T) {
	raw, err := json.Marshal(Answers{"q1": OptionAnswer(1)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"q1":{"type":"option","value":1}}` {
		t.Fatalf("unexpected encoding: %s", raw)
	}

	var got Answers
	if err := json.Unmarshal([]byte(`{"a":{"type":"boolean","value":true},"b":{"type":"text","value":" paris "}}`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := Answers{"a": BoolAnswer(true), "b": TextAnswer(" paris ")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAnswerValueRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"unknown tag":    `{"type":"essay","value":"x"}`,
		"mismatch":       `{"type":"option","value":"one"}`,
		"not an object":  `42`,
		"boolean as str": `{"type":"boolean","value":"true"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			var v AnswerValue
			if err := json.Unmarshal([]byte(in), &v); err == nil {
				t.Errorf("expected error for %s", in)
			}
		})
	}
}

func TestAnswersMergeIsCommutativeOnDisjointKeys(t *testing.T) {
	a := Answers{"A": OptionAnswer(1)}
	b := Answers{"B": OptionAnswer(2)}

	first := Answers{}
	first.Merge(a)
	first.Merge(b)

	second := Answers{}
	second.Merge(b)
	second.Merge(a)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("merge order changed result: %+v vs %+v", first, second)
	}
	if len(first) != 2 {
		t.Fatalf("expected union of both patches, got %+v", first)
	}
}

func TestAnswersMergeLeavesAbsentKeys(t *testing.T) {
	sheet := Answers{"q1": TextAnswer("old"), "q2": BoolAnswer(false)}
	sheet.Merge(Answers{"q1": TextAnswer("new")})

	if sheet["q1"].Text != "new" {
		t.Errorf("q1 not overwritten: %+v", sheet["q1"])
	}
	if v, ok := sheet["q2"]; !ok || v.Bool {
		t.Errorf("q2 disturbed: %+v", v)
	}
}
