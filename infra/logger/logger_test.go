package logger

import "testing"

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	if c.Level != "info" || c.Format != FormatJSON {
		t.Errorf("defaults = %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"debug console", Config{Level: "debug", Format: FormatConsole}, true},
		{"warn json", Config{Level: "warn", Format: FormatJSON}, true},
		{"unknown level", Config{Level: "loud", Format: FormatJSON}, false},
		{"unknown format", Config{Level: "info", Format: "xml"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected an error")
			}
		})
	}
}
