// Package server contains the JSON payload types shared by the HTTP interfaces.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
)

// BoolT is a struct with a single bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a struct with a single string field
type StrT struct {
	Str string `json:"str"`
}

// IntT is a struct with a single int field
type IntT struct {
	Int int `json:"int"`
}

// UintT is a struct with a single uint field
type UintT struct {
	Uint uint `json:"uint"`
}

// IntsT is a struct with a single int slice field
type IntsT struct {
	Ints []int `json:"ints"`
}

// StrsT is a struct with a single string slice field
type StrsT struct {
	Strs []string `json:"strs"`
}

// HumanPayload is a struct containing the basic types devices may work with.
// T selects which field is encoded.
type HumanPayload struct {
	Bool    bool
	Int     int
	Uint    uint
	String  string
	Ints    []int
	Strings []string

	// T is the kind of the payload.  Leave it zero and set Ints or Strings
	// (non-nil) to send a slice
	T types.BasicKind
}

// EncodeAndRespond encodes the payload as a single-field JSON object and
// writes it to w
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var obj interface{}
	switch {
	case hp.T == types.Bool:
		obj = BoolT{Bool: hp.Bool}
	case hp.T == types.Int:
		obj = IntT{Int: hp.Int}
	case hp.T == types.Uint:
		obj = UintT{Uint: hp.Uint}
	case hp.T == types.String:
		obj = StrT{Str: hp.String}
	case hp.Ints != nil:
		obj = IntsT{Ints: hp.Ints}
	case hp.Strings != nil:
		obj = StrsT{Strs: hp.Strings}
	default:
		fstr := fmt.Sprintf("unsupported payload kind %v", hp.T)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(obj)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}
