package domain

import "testing"

func TestArmKeyStableAndDistinguishing(t *testing.T) {
	a := Arm{Platform: "google_ads", Channel: "search", Creative: "cr1", Bid: 1.5}
	b := Arm{Platform: "google_ads", Channel: "search", Creative: "cr1", Bid: 1.5}
	if a.Key() != b.Key() {
		t.Fatalf("identical tuples must produce identical keys: %q != %q", a.Key(), b.Key())
	}

	c := Arm{Platform: "google_ads", Channel: "search", Creative: "cr1", Bid: 1.6}
	if a.Key() == c.Key() {
		t.Fatal("differing bid must change the arm key")
	}
}

func TestValidateArm(t *testing.T) {
	tests := []struct {
		name    string
		arm     Arm
		wantErr bool
	}{
		{"valid", Arm{Platform: "meta", Channel: "feed", Creative: "v1", Bid: 2.0}, false},
		{"empty platform", Arm{Platform: "", Channel: "feed", Creative: "v1", Bid: 2.0}, true},
		{"empty channel", Arm{Platform: "meta", Channel: "", Creative: "v1", Bid: 2.0}, true},
		{"empty creative", Arm{Platform: "meta", Channel: "feed", Creative: "", Bid: 2.0}, true},
		{"negative bid", Arm{Platform: "meta", Channel: "feed", Creative: "v1", Bid: -0.1}, true},
		{"zero bid allowed", Arm{Platform: "meta", Channel: "feed", Creative: "v1", Bid: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArm(tt.arm)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArm() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddArmRejectsDuplicateKeyWithinCampaign(t *testing.T) {
	camp := Campaign{ID: 7}
	existing := []Arm{{Platform: "meta", Channel: "feed", Creative: "v1", Bid: 1.0}}

	dup := Arm{Platform: "meta", Channel: "feed", Creative: "v1", Bid: 1.0}
	if _, err := AddArm(camp, dup, existing); err == nil {
		t.Fatal("expected duplicate arm_key to be rejected")
	}

	distinct := Arm{Platform: "meta", Channel: "feed", Creative: "v2", Bid: 1.0}
	got, err := AddArm(camp, distinct, existing)
	if err != nil {
		t.Fatalf("unexpected error for distinct arm: %v", err)
	}
	if got.CampaignID != camp.ID {
		t.Errorf("AddArm must stamp the campaign ID, got %d want %d", got.CampaignID, camp.ID)
	}
}
