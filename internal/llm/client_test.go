package llm

import "testing"

func TestNewClient(t *testing.T) {
	tests := []struct {
		provider Provider
		key      string
		name     string
		wantErr  bool
	}{
		{"", "k", "anthropic", false},
		{ProviderAnthropic, "k", "anthropic", false},
		{ProviderOpenAI, "k", "openai", false},
		{ProviderOpenAI, "", "", true},
		{"llama", "k", "", true},
	}
	for _, tt := range tests {
		client, err := NewClient(tt.provider, tt.key)
		if tt.wantErr {
			if err == nil || client != nil {
				t.Fatalf("%q: expected error and nil client, got %v, %v", tt.provider, client, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tt.provider, err)
		}
		if client.Name() != tt.name {
			t.Fatalf("%q: expected %s, got %s", tt.provider, tt.name, client.Name())
		}
	}
}
