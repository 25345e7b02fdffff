package sitekeeper

import (
	"fmt"
	"strings"
	"text/template"
)

// VHost is the input to [RenderVHost]: everything needed to produce a
// virtual-host configuration body.
type VHost struct {
	// Domain is the server_name.
	Domain string

	// DocumentRoot is the directory served for static content and used
	// as the ACME HTTP-01 webroot.
	DocumentRoot string

	// AppSocket, when non-empty, is a unix socket for an application
	// runtime (e.g. "/run/php/php-fpm.sock"); it adds a FastCGI
	// location block.
	AppSocket string

	// TLS, when non-nil, switches the rendering to a redirect block on
	// port 80 plus a TLS listener presenting these paths.
	TLS *CertPaths
}

// Cipher policy for TLS listeners. Modern protocol versions only, with
// a fixed AEAD-only suite list so rendered output is stable across
// versions of this tool.
const (
	tlsProtocols = "TLSv1.2 TLSv1.3"
	tlsCiphers   = "ECDHE-ECDSA-AES128-GCM-SHA256:ECDHE-RSA-AES128-GCM-SHA256:ECDHE-ECDSA-AES256-GCM-SHA384:ECDHE-RSA-AES256-GCM-SHA384:ECDHE-ECDSA-CHACHA20-POLY1305:ECDHE-RSA-CHACHA20-POLY1305"
)

// httpTemplate is the plaintext-only vhost: a single listener on port
// 80 serving static content, with an optional app-runtime location.
const httpTemplate = `server {
    listen 80;
    listen [::]:80;
    server_name {{.Domain}};

    root {{.DocumentRoot}};
    index index.html index.htm;

    location / {
        try_files $uri $uri/ =404;
    }
{{- if .AppSocket}}

    location ~ \.php$ {
        include snippets/fastcgi-php.conf;
        fastcgi_pass unix:{{.AppSocket}};
        fastcgi_param SCRIPT_FILENAME $document_root$fastcgi_script_name;
        include fastcgi_params;
    }
{{- end}}
}
`

// httpsTemplate is the TLS vhost pair: a plaintext listener that serves
// only the ACME challenge path and redirects everything else, and a TLS
// listener presenting the installed certificate.
const httpsTemplate = `server {
    listen 80;
    listen [::]:80;
    server_name {{.Domain}};

    location ^~ /.well-known/acme-challenge/ {
        root {{.DocumentRoot}};
    }

    location / {
        return 301 https://$host$request_uri;
    }
}

server {
    listen 443 ssl;
    listen [::]:443 ssl;
    http2 on;
    server_name {{.Domain}};

    ssl_certificate {{.TLS.Fullchain}};
    ssl_certificate_key {{.TLS.Key}};
    ssl_protocols {{.Protocols}};
    ssl_ciphers {{.Ciphers}};
    ssl_prefer_server_ciphers off;

    root {{.DocumentRoot}};
    index index.html index.htm;

    location / {
        try_files $uri $uri/ =404;
    }
{{- if .AppSocket}}

    location ~ \.php$ {
        include snippets/fastcgi-php.conf;
        fastcgi_pass unix:{{.AppSocket}};
        fastcgi_param SCRIPT_FILENAME $document_root$fastcgi_script_name;
        include fastcgi_params;
    }
{{- end}}
}
`

var (
	httpTmpl  = template.Must(template.New("vhost-http").Parse(httpTemplate))
	httpsTmpl = template.Must(template.New("vhost-https").Parse(httpsTemplate))
)

type vhostData struct {
	Domain       string
	DocumentRoot string
	AppSocket    string
	TLS          *CertPaths
	Protocols    string
	Ciphers      string
}

// RenderVHost produces the configuration body for a virtual host. It is
// a pure function: identical inputs always yield byte-identical output,
// so re-rendering an unchanged site is a no-op at the file level.
func RenderVHost(v VHost) (string, error) {
	if v.Domain == "" {
		return "", fmt.Errorf("render vhost: empty domain")
	}
	if v.DocumentRoot == "" {
		return "", fmt.Errorf("render vhost: empty document root")
	}

	data := vhostData{
		Domain:       v.Domain,
		DocumentRoot: v.DocumentRoot,
		AppSocket:    v.AppSocket,
		TLS:          v.TLS,
		Protocols:    tlsProtocols,
		Ciphers:      tlsCiphers,
	}

	tmpl := httpTmpl
	if v.TLS != nil {
		if v.TLS.Key == "" || v.TLS.Fullchain == "" {
			return "", fmt.Errorf("render vhost: TLS enabled but certificate paths missing")
		}
		tmpl = httpsTmpl
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render vhost: %w", err)
	}
	return b.String(), nil
}
