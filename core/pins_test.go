package core

import "testing"

func TestParsePin(t *testing.T) {
	tests := []struct {
		name    string
		want    uint8
		wantErr bool
	}{
		{"gpio0", 0, false},
		{"GPIO12", 12, false},
		{" gpio29 ", 29, false},
		{"7", 7, false},
		{"gpio", 0, true},
		{"gpio48", 0, true},
		{"adc0", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParsePin(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePin(%q) expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePin(%q) unexpected error: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePin(%q) = %d, want %d", tt.name, got, tt.want)
		}
		if PinName(got) != "gpio"+itoa(int64(got)) {
			t.Errorf("PinName(%d) = %q", got, PinName(got))
		}
	}
}
