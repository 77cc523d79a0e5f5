package httputil

import "testing"

func TestValidator_Struct(t *testing.T) {
	type request struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,max=8"`
	}
	v := NewValidator()

	tests := []struct {
		name string
		req  request
		want string
	}{
		{name: "valid", req: request{Email: "a@example.com", Password: "secret"}, want: ""},
		{name: "missing both", req: request{}, want: "email is required; password is required"},
		{name: "bad email", req: request{Email: "nope", Password: "secret"}, want: "email must be a valid email address"},
		{name: "long password", req: request{Email: "a@example.com", Password: "123456789"}, want: "password must be at most 8 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.req)
			got := ""
			if err != nil {
				got = err.Error()
			}
			if got != tt.want {
				t.Errorf("Struct() = %q, want %q", got, tt.want)
			}
		})
	}
}
