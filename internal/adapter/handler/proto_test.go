package handler

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

var (
	protoPackage = regexp.MustCompile(`(?m)^package ([\w.]+);`)
	protoService = regexp.MustCompile(`(?m)^service (\w+) \{`)
	protoRPC     = regexp.MustCompile(`rpc (\w+)\(\w+\) returns \(\w+\);`)
	protoField   = regexp.MustCompile(`^\s*(?:optional |repeated )?[\w.]+ (\w+) = \d+;`)
)

func readProto(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("proto", InventoryServiceDesc.Metadata.(string)))
	if err != nil {
		t.Fatalf("read proto: %v", err)
	}
	return string(data)
}

// protoMessageFields returns the field names of message name, in order.
func protoMessageFields(t *testing.T, src, name string) []string {
	t.Helper()
	start := strings.Index(src, "message "+name+" {")
	if start < 0 {
		t.Fatalf("message %s not found", name)
	}
	body := src[start:]
	body = body[:strings.Index(body, "\n}")]

	var fields []string
	for _, line := range strings.Split(body, "\n")[1:] {
		if m := protoField.FindStringSubmatch(line); m != nil {
			fields = append(fields, m[1])
		}
	}
	return fields
}

func jsonFields(v any) []string {
	var fields []string
	rt := reflect.TypeOf(v)
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("json")
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			fields = append(fields, name)
		}
	}
	return fields
}

func TestProtoMatchesServiceDesc(t *testing.T) {
	src := readProto(t)

	pkg := protoPackage.FindStringSubmatch(src)
	svc := protoService.FindStringSubmatch(src)
	if pkg == nil || svc == nil {
		t.Fatal("proto lacks package or service declaration")
	}
	if got := pkg[1] + "." + svc[1]; got != InventoryServiceDesc.ServiceName {
		t.Errorf("expected service %s, got %s", InventoryServiceDesc.ServiceName, got)
	}

	var rpcs []string
	for _, m := range protoRPC.FindAllStringSubmatch(src, -1) {
		rpcs = append(rpcs, m[1])
	}
	var methods []string
	for _, m := range InventoryServiceDesc.Methods {
		methods = append(methods, m.MethodName)
	}
	if !reflect.DeepEqual(rpcs, methods) {
		t.Errorf("expected rpcs %v, got %v", methods, rpcs)
	}
}

func TestProtoMatchesJSONWire(t *testing.T) {
	src := readProto(t)
	tests := []struct {
		message string
		value   any
	}{
		{"MessageRequest", MessageRequest{}},
		{"BulkRequest", BulkRequest{}},
		{"BulkResponse", BulkResponse{}},
		{"InventoryRequest", InventoryRequest{}},
		{"InventoryResponse", InventoryResponse{}},
		{"Outcome", domain.Outcome{}},
		{"AppliedItem", domain.AppliedItem{}},
		{"FailedItem", domain.FailedItem{}},
		{"Prompt", domain.Prompt{}},
		{"BatchRecord", domain.BatchRecord{}},
		{"InventoryRecord", domain.InventoryRecord{}},
		{"BulkItem", domain.BulkItem{}},
		{"BulkResult", domain.BulkResult{}},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			want := jsonFields(tt.value)
			if got := protoMessageFields(t, src, tt.message); !reflect.DeepEqual(got, want) {
				t.Errorf("expected fields %v, got %v", want, got)
			}
		})
	}
}
