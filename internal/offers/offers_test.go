package offers

import (
	"testing"
)

func TestAdmits(t *testing.T) {
	tests := []struct {
		name             string
		stores           []int32
		businessTypes    []string
		businessSubtypes []string
		loyaltyTiers     []string
		storeID          int32
		businessType     string
		businessSubtype  string
		loyaltyTier      string
		want             bool
	}{
		{
			name:         "unrestricted admits anyone",
			storeID:      7, businessType: "horeca", businessSubtype: "hotel", loyaltyTier: "bronze",
			want: true,
		},
		{
			name:   "store scope match",
			stores: []int32{1, 2, 3},
			storeID: 2, businessType: "kiosk", businessSubtype: "newsstand", loyaltyTier: "gold",
			want: true,
		},
		{
			name:   "store scope miss",
			stores: []int32{1, 2, 3},
			storeID: 4, businessType: "kiosk", businessSubtype: "newsstand", loyaltyTier: "gold",
			want: false,
		},
		{
			name:          "all dimensions must pass",
			stores:        []int32{1},
			businessTypes: []string{"horeca"},
			loyaltyTiers:  []string{"gold"},
			storeID:       1, businessType: "horeca", businessSubtype: "hotel", loyaltyTier: "silver",
			want: false,
		},
		{
			name:          "conjunction satisfied",
			stores:        []int32{1},
			businessTypes: []string{"horeca"},
			loyaltyTiers:  []string{"gold", "silver"},
			storeID:       1, businessType: "horeca", businessSubtype: "hotel", loyaltyTier: "silver",
			want: true,
		},
		{
			name:             "subtype scope miss",
			businessSubtypes: []string{"restaurant"},
			storeID:          1, businessType: "horeca", businessSubtype: "hotel", loyaltyTier: "gold",
			want: false,
		},
		{
			name:          "empty non-nil scope admits nobody",
			businessTypes: []string{},
			storeID:       1, businessType: "horeca", businessSubtype: "hotel", loyaltyTier: "gold",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Offer{ID: 1}
			o.SetScopes(tt.stores, tt.businessTypes, tt.businessSubtypes, tt.loyaltyTiers)
			got := o.Admits(tt.storeID, tt.businessType, tt.businessSubtype, tt.loyaltyTier)
			if got != tt.want {
				t.Errorf("Admits() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdmitsBusinessType(t *testing.T) {
	o := &Offer{ID: 1}
	if !o.AdmitsBusinessType("horeca") {
		t.Error("Unrestricted scope should admit any business type")
	}
	o.SetScopes(nil, []string{"kiosk", "office"}, nil, nil)
	if o.AdmitsBusinessType("horeca") {
		t.Error("Scoped offer should reject horeca")
	}
	if !o.AdmitsBusinessType("kiosk") {
		t.Error("Scoped offer should admit kiosk")
	}
}
