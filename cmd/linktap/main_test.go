package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rickgao/shortlink-realtime/internal/auth"
	"github.com/rickgao/shortlink-realtime/internal/config"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantType string
		wantData string
		wantErr  bool
	}{
		{name: "type and object", line: `click {"id":1}`, wantType: "click", wantData: `{"id":1}`},
		{name: "type only", line: "ping", wantType: "ping"},
		{name: "surrounding space", line: "  view   [1,2]  ", wantType: "view", wantData: "[1,2]"},
		{name: "invalid json", line: "click {oops", wantErr: true},
		{name: "blank", line: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotData, err := parseLine(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if gotType != tt.wantType {
				t.Errorf("type = %q, want %q", gotType, tt.wantType)
			}
			if string(gotData) != tt.wantData {
				t.Errorf("data = %q, want %q", gotData, tt.wantData)
			}
		})
	}
}

func TestParseLine_Blank(t *testing.T) {
	if _, _, err := parseLine(""); !errors.Is(err, errBlankLine) {
		t.Errorf("error = %v, want errBlankLine", err)
	}
}

func TestTokenSource(t *testing.T) {
	if src := tokenSource(config.RealtimeConfig{}); src != nil {
		t.Errorf("tokenSource() = %v, want nil", src)
	}

	src := tokenSource(config.RealtimeConfig{Token: "abc"})
	if _, ok := src.(auth.StaticToken); !ok {
		t.Errorf("tokenSource(Token) = %T, want auth.StaticToken", src)
	}

	src = tokenSource(config.RealtimeConfig{Token: "abc", TokenFile: "/run/token"})
	if ft, ok := src.(auth.FileToken); !ok || ft.Path != "/run/token" {
		t.Errorf("tokenSource(TokenFile) = %#v, want FileToken", src)
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	printer(&buf, "click")(json.RawMessage(`{"id":1}`))

	if got := buf.String(); got != "click {\"id\":1}\n" {
		t.Errorf("printed %q", got)
	}
}

func TestReadLines(t *testing.T) {
	out := make(chan string, 4)
	readLines(strings.NewReader("a 1\nb 2\n"), out)

	var got []string
	for line := range out {
		got = append(got, line)
	}
	if len(got) != 2 || got[0] != "a 1" || got[1] != "b 2" {
		t.Errorf("lines = %v", got)
	}
}
