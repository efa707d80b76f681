package types //nolint:revive // types is a valid package name

import "testing"

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"two segments", "com.example", false},
		{"underscores and digits", "com.example.app_2", false},
		{"single segment", "example", true},
		{"leading digit", "com.1example", true},
		{"empty", "", true},
		{"trailing dot", "com.example.", true},
		{"dash", "com.ex-ample", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePackageName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePackageName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestPatchOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    PatchOptions
		wantErr bool
	}{
		{"valid", PatchOptions{PackageName: "com.example.mod", AppName: "Mod"}, false},
		{"missing app name", PatchOptions{PackageName: "com.example.mod"}, true},
		{"bad package", PatchOptions{PackageName: "mod", AppName: "Mod"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
