package queue

import "testing"

func TestSendRequestMessageValidate(t *testing.T) {
	testCases := []struct {
		name    string
		msg     SendRequestMessage
		wantErr bool
	}{
		{
			name: "valid raw content",
			msg:  SendRequestMessage{Recipient: "+420777111222", Content: "hello"},
		},
		{
			name: "valid template with context",
			msg: SendRequestMessage{
				Recipient:    "+420777111222",
				TemplateSlug: "order-confirmation",
				Context:      map[string]string{"name": "Petr"},
			},
		},
		{
			name: "valid template without context",
			msg:  SendRequestMessage{Recipient: "+420777111222", TemplateSlug: "otp-code"},
		},
		{
			name:    "missing recipient",
			msg:     SendRequestMessage{Content: "hello"},
			wantErr: true,
		},
		{
			name: "both content and template",
			msg: SendRequestMessage{
				Recipient:    "+420777111222",
				Content:      "hello",
				TemplateSlug: "otp-code",
			},
			wantErr: true,
		},
		{
			name:    "neither content nor template",
			msg:     SendRequestMessage{Recipient: "+420777111222"},
			wantErr: true,
		},
		{
			name: "context without template",
			msg: SendRequestMessage{
				Recipient: "+420777111222",
				Content:   "hello",
				Context:   map[string]string{"name": "Petr"},
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
		})
	}
}
