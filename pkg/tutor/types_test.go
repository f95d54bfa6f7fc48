package tutor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNewQuestionRequest(t *testing.T) {
	wavBytes := []byte("RIFF....WAVE")
	q, err := NewQuestionRequest("Piston", wavBytes)
	if err != nil {
		t.Fatalf("NewQuestionRequest: %v", err)
	}
	if q.PartName != "Piston" {
		t.Errorf("PartName = %q", q.PartName)
	}
	if q.AudioData != base64.StdEncoding.EncodeToString(wavBytes) {
		t.Errorf("AudioData = %q", q.AudioData)
	}

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"part_name":"Piston","audio_data":"UklGRi4uLi5XQVZF"}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestNewQuestionRequest_EmptySubject(t *testing.T) {
	if _, err := NewQuestionRequest("", []byte{1}); !errors.Is(err, ErrMissingContext) {
		t.Errorf("err = %v, want ErrMissingContext", err)
	}
}

func TestReply_AbsentAudio(t *testing.T) {
	var r Reply
	if err := json.Unmarshal([]byte(`{"response_text":"hi","audio_reply":null}`), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r.HasAudio() {
		t.Error("null audio_reply should mean text-only")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicySupersede, false},
		{"supersede", PolicySupersede, false},
		{" Independent ", PolicyIndependent, false},
		{"queue", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if PolicyIndependent.String() != "independent" {
		t.Errorf("String = %q", PolicyIndependent.String())
	}
}

func TestNetworkError(t *testing.T) {
	cause := errors.New("connection refused")
	tests := []struct {
		err  *NetworkError
		want string
	}{
		{&NetworkError{Op: "post", Err: cause}, "tutor: post: connection refused"},
		{&NetworkError{Op: "status", StatusCode: 502}, "tutor: status: status 502"},
		{&NetworkError{Op: "status", StatusCode: 500, Err: errors.New("boom")}, "tutor: status: status 500: boom"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
		if !errors.Is(tt.err, ErrNetwork) {
			t.Errorf("%v does not match ErrNetwork", tt.err)
		}
	}
	if !errors.Is(&NetworkError{Op: "post", Err: cause}, cause) {
		t.Error("NetworkError does not unwrap to its cause")
	}
}

func TestIsBackendFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"dial", &NetworkError{Op: "post", Err: errors.New("connection refused")}, true},
		{"cancelled", &NetworkError{Op: "post", Err: fmt.Errorf("do: %w", context.Canceled)}, false},
		{"read", &NetworkError{Op: "read", StatusCode: 200, Err: errors.New("unexpected EOF")}, true},
		{"5xx", &NetworkError{Op: "status", StatusCode: 503}, true},
		{"4xx", &NetworkError{Op: "status", StatusCode: 422}, false},
		{"decode", &NetworkError{Op: "decode", Err: errors.New("bad json")}, false},
		{"missing context", ErrMissingContext, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBackendFailure(tt.err); got != tt.want {
				t.Errorf("IsBackendFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
