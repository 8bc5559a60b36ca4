package dialer

import (
	"reflect"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		scheme   string
		addr     string
		wantType any
		wantErr  bool
	}{
		{
			name:     "direct",
			scheme:   "direct",
			wantType: &directDialer{},
		},
		{
			name:     "http default port",
			scheme:   "http",
			addr:     "proxy.example",
			wantType: &HTTPProxyDialer{},
		},
		{
			name:     "https default port",
			scheme:   "https",
			addr:     "proxy.example",
			wantType: &HTTPProxyDialer{},
		},
		{
			name:     "socks4",
			scheme:   "socks4",
			addr:     "proxy.example:1080",
			wantType: &SOCKS4ProxyDialer{},
		},
		{
			name:     "socks5 default port",
			scheme:   "socks5",
			addr:     "proxy.example",
			wantType: &SOCKS5ProxyDialer{},
		},
		{
			name:     "scheme case-insensitive",
			scheme:   "HTTp",
			addr:     "proxy.example:80",
			wantType: &HTTPProxyDialer{},
		},
		{
			name:    "unsupported scheme",
			scheme:  "gopher",
			addr:    "example.com:70",
			wantErr: true,
		},
		{
			name:    "missing address",
			scheme:  "http",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(Config{}, tt.scheme, tt.addr, "", "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if d == nil {
				t.Fatal("got nil dialer")
			}
			if tt.wantType != nil {
				gotType := reflect.TypeOf(d)
				wantType := reflect.TypeOf(tt.wantType)
				if gotType != wantType {
					t.Fatalf("got %s want %s", gotType, wantType)
				}
			}
		})
	}
}

func TestNewAppliesDefaultPort(t *testing.T) {
	d, err := New(Config{}, "http", "proxy.example", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if got := d.(*HTTPProxyDialer).ProxyAddr(); got != "proxy.example:80" {
		t.Fatalf("got %q", got)
	}
}
