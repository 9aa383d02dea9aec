package simulator

import (
	"context"
	"errors"
	"testing"

	"github.com/Masterminds/semver"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/shell"
)

var testRuntimes = []Runtime{
	{Identifier: "com.apple.CoreSimulator.SimRuntime.iOS-16-4", Name: "iOS 16.4", Version: "16.4", Platform: "iOS", IsAvailable: true},
	{Identifier: "com.apple.CoreSimulator.SimRuntime.iOS-17-2", Name: "iOS 17.2", Version: "17.2", Platform: "iOS", IsAvailable: true},
	{Identifier: "com.apple.CoreSimulator.SimRuntime.iOS-18-1", Name: "iOS 18.1", Version: "18.1", Platform: "iOS", IsAvailable: true},
	{Identifier: "com.apple.CoreSimulator.SimRuntime.watchOS-11-0", Name: "watchOS 11.0", Version: "11.0", Platform: "watchOS", IsAvailable: true},
}

func TestSelectRuntime(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		want       string
		wantErr    bool
	}{
		{"newest", "", "18.1", false},
		{"major 17", "~17", "17.2", false},
		{"range", ">= 16.0, < 18", "17.2", false},
		{"exact", "16.4", "16.4", false},
		{"none", ">= 19", "", true},
		{"invalid", "not a constraint!!", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := SelectRuntime(testRuntimes, "", tt.constraint)
			if tt.wantErr {
				if err == nil {
					t.Errorf("SelectRuntime(%q) = %+v, want error", tt.constraint, rt)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectRuntime(%q) error = %v", tt.constraint, err)
			}
			if rt.Version != tt.want {
				t.Errorf("SelectRuntime(%q).Version = %q, want %q", tt.constraint, rt.Version, tt.want)
			}
		})
	}
}

func TestSelectRuntime_Platform(t *testing.T) {
	rt, err := SelectRuntime(testRuntimes, "watchOS", "")
	if err != nil {
		t.Fatal(err)
	}
	if rt.Platform != "watchOS" {
		t.Errorf("Platform = %q, want watchOS", rt.Platform)
	}
}

func TestCreateSimulator(t *testing.T) {
	f := shell.NewFake().
		OnOutput("xcrun simctl list runtimes", `{"runtimes":[
			{"identifier":"com.apple.CoreSimulator.SimRuntime.iOS-17-2","name":"iOS 17.2","version":"17.2","platform":"iOS","isAvailable":true},
			{"identifier":"com.apple.CoreSimulator.SimRuntime.iOS-18-1","name":"iOS 18.1","version":"18.1","platform":"iOS","isAvailable":false}
		]}`).
		OnOutput("xcrun simctl list devicetypes", `{"devicetypes":[
			{"name":"iPhone 15 Pro","identifier":"com.apple.CoreSimulator.SimDeviceType.iPhone-15-Pro"}
		]}`).
		OnOutput("xcrun simctl create", "NEW-UDID\n")

	udid, err := testClient(f).CreateSimulator(context.Background(), "simlens-1", "iPhone 15 Pro", "")
	if err != nil {
		t.Fatalf("CreateSimulator() error = %v", err)
	}
	if udid != "NEW-UDID" {
		t.Errorf("udid = %q, want NEW-UDID", udid)
	}
	if !f.Called("xcrun simctl create simlens-1 com.apple.CoreSimulator.SimDeviceType.iPhone-15-Pro com.apple.CoreSimulator.SimRuntime.iOS-17-2") {
		t.Errorf("unexpected create call: %v", f.Calls)
	}
}

func TestCreateSimulator_UnknownType(t *testing.T) {
	f := shell.NewFake().
		OnOutput("xcrun simctl list runtimes", `{"runtimes":[{"identifier":"x.iOS-17-2","version":"17.2","platform":"iOS","isAvailable":true}]}`).
		OnOutput("xcrun simctl list devicetypes", `{"devicetypes":[]}`)

	_, err := testClient(f).CreateSimulator(context.Background(), "x", "Nokia 3310", "")
	if !errors.Is(err, core.ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestParseConstraint_PartialVersions(t *testing.T) {
	tests := []struct {
		constraint string
		version    string
		want       bool
	}{
		{"< 18", "18.1", false},
		{"< 18", "17.5", true},
		{"<= 17.2", "17.2.1", false},
		{">= 16.0, < 18", "18.0", false},
		{"~17", "17.5", true},
		{"^17.2", "17.9", true},
		{"17.x", "17.4", true},
		{">= 17.2.1", "17.2.1", true},
	}
	for _, tt := range tests {
		cons, err := ParseConstraint(tt.constraint)
		if err != nil {
			t.Fatalf("ParseConstraint(%q) error = %v", tt.constraint, err)
		}
		if got := cons.Check(semver.MustParse(tt.version)); got != tt.want {
			t.Errorf("ParseConstraint(%q).Check(%s) = %v, want %v", tt.constraint, tt.version, got, tt.want)
		}
	}
}
