package artifact

import "github.com/DagiiM/webops-sub005/internal/entity"

// unifiedTemplates are the fallbacks used when no (deployment kind, artifact
// kind) specific template is registered.
var unifiedTemplates = map[Kind]string{
	KindServiceUnit: `[Unit]
Description={{.Description}}
After=network.target

[Service]
Type=simple
User={{.User}}
WorkingDirectory={{.WorkDir}}
EnvironmentFile={{.WorkDir}}/.env
ExecStart={{.StartCmd}}
Restart=no
TimeoutStopSec=30

[Install]
WantedBy=multi-user.target
`,
	KindProxyRoute: `server {
    listen {{if .SSLEnabled}}443 ssl{{else}}80{{end}};
    server_name {{.Domain}};

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`,
	KindEnvFile: `PORT={{.Port}}
{{- range $key, $value := .Env}}
{{$key}}={{$value}}
{{- end}}
`,
}

// specificTemplates override the unified ones for a deployment kind.
var specificTemplates = map[registryKey]string{
	{entity.DeploymentKindLLM, KindServiceUnit}: `[Unit]
Description={{.Description}}
After=network.target

[Service]
Type=simple
User={{.User}}
WorkingDirectory={{.WorkDir}}
EnvironmentFile={{.WorkDir}}/.env
ExecStart={{.StartCmd}}
Restart=no
TimeoutStartSec=600
TimeoutStopSec=120

[Install]
WantedBy=multi-user.target
`,
	{entity.DeploymentKindLLM, KindProxyRoute}: `server {
    listen {{if .SSLEnabled}}443 ssl{{else}}80{{end}};
    server_name {{.Domain}};

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_set_header Host $host;
        proxy_read_timeout 600s;
        proxy_buffering off;
        chunked_transfer_encoding on;
    }
}
`,
}
