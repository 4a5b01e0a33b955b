package cache

import "testing"

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "pokemon id",
			key:  Key{Resource: "pokemon", ID: 25},
			want: "pokeapi:pokemon:25",
		},
		{
			name: "resource is normalized",
			key:  Key{Resource: "/Pokemon/", ID: 1},
			want: "pokeapi:pokemon:1",
		},
		{
			name: "empty resource",
			key:  Key{ID: 7},
			want: "pokeapi:unknown:7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_Deterministic(t *testing.T) {
	a := Key{Resource: "pokemon", ID: 898}
	b := Key{Resource: "pokemon", ID: 898}
	if a.String() != b.String() {
		t.Errorf("equal keys produced different strings: %q vs %q", a.String(), b.String())
	}
	if a.String() == (Key{Resource: "pokemon", ID: 897}).String() {
		t.Error("different ids produced the same key")
	}
}
