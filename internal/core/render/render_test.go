package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/artpar/quickops/internal/core/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Escaping Tests
// =============================================================================

func TestGroovyString(t *testing.T) {
	assert.Equal(t, `'plain'`, groovyString("plain"))
	assert.Equal(t, `'it\'s'`, groovyString("it's"))
	assert.Equal(t, `'a\\b'`, groovyString(`a\b`))
	assert.Equal(t, `'line\nbreak'`, groovyString("line\nbreak"))
	assert.Equal(t, `'${not.interpolated}'`, groovyString("${not.interpolated}"))
}

func TestHCLString(t *testing.T) {
	assert.Equal(t, `"plain"`, hclString("plain"))
	assert.Equal(t, `"say \"hi\""`, hclString(`say "hi"`))
	assert.Equal(t, `"$${var.secret}"`, hclString("${var.secret}"))
	assert.Equal(t, `"%%{if x}"`, hclString("%{if x}"))
}

func TestJSONString(t *testing.T) {
	s, err := jsonString(`a"b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\"b"`, s)
}

func TestYAMLString(t *testing.T) {
	s, err := yamlString("https://github.com/acme/{{ lookup('env','HOME') }}.git")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, `!unsafe "`), s)
	assert.True(t, strings.HasSuffix(s, `"`), s)
	assert.NotContains(t, s, "\n")
}

// =============================================================================
// Template Tests
// =============================================================================

func TestNew_ParsesEmbeddedTemplates(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	for _, name := range []string{TemplatePipeline, TemplateVMInfra, TemplateClusterModel, TemplateVMPlaybook, TemplateClusterPlaybook} {
		assert.NotNil(t, r.tmpl.Lookup(name), name)
	}
}

func TestPipeline(t *testing.T) {
	r := MustNew()
	out, err := r.Pipeline(PipelineContext{
		ProjectName:     "shopapp",
		FrontendRepo:    "https://github.com/acme/web.git",
		BackendRepos:    ReposFrom([]string{"https://github.com/acme/orders.git", "https://github.com/acme/pay.git"}),
		CredentialToken: "ghp_secret",
		Registry:        "nexus:8082",
		SonarServer:     "sonarqube",
	})
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `def projectName = 'shopapp'`)
	assert.Contains(t, s, `[name: 'orders', url: 'https://github.com/acme/orders.git'],`)
	assert.Contains(t, s, `[name: 'pay', url: 'https://github.com/acme/pay.git'],`)
	assert.Contains(t, s, `GIT_TOKEN = 'ghp_secret'`)
	assert.Contains(t, s, "stage('Build Images')")
}

func TestPipeline_EscapesHostileRepoURL(t *testing.T) {
	r := MustNew()
	hostile := `https://x/y.git'] ; System.exit(0) ; ['`
	out, err := r.Pipeline(PipelineContext{
		ProjectName:  "p",
		FrontendRepo: hostile,
		Registry:     "r",
		SonarServer:  "s",
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), `def frontendRepo = 'https://x/y.git\'] ; System.exit(0) ; [\''`)
}

func TestVMInfra(t *testing.T) {
	rules, err := IngressRulesFor(identity.Ports(2))
	require.NoError(t, err)

	out, err := MustNew().VMInfra(InfraContext{
		ProjectName: "shopapp",
		Cloud:       CloudContext{Location: "westeurope", ResourceGroup: "rg", AdminUsername: "ops", SSHPublicKey: "ssh-ed25519 AAAA"},
		Network:     identity.VMAddressPlan("shopapp"),
		Rules:       rules,
		VMSize:      "Standard_B2s",
	})
	require.NoError(t, err)

	s := string(out)
	plan := identity.VMAddressPlan("shopapp")
	assert.Contains(t, s, `address_space       = ["`+plan.CIDR+`"]`)
	assert.Contains(t, s, `private_ip_address            = "`+plan.FirstAddress+`"`)
	assert.Contains(t, s, `name                       = "Allow-Backend-5000"`)
	assert.Contains(t, s, `priority                   = 130`)
	assert.Contains(t, s, `priority                   = 131`)
	assert.Contains(t, s, `destination_port_range     = "5001"`)
	assert.Contains(t, s, `output "vm_public_ip"`)
	assert.Contains(t, s, `output "vm_dns"`)
	assert.Less(t, strings.Index(s, "Allow-Backend-5000"), strings.Index(s, "Allow-Backend-5001"))
}

func TestIngressRulesFor(t *testing.T) {
	rules, err := IngressRulesFor([]int{5000, 5001})
	require.NoError(t, err)
	assert.Equal(t, []IngressRule{
		{Name: "Allow-Backend-5000", Priority: 130, Port: "5000", Protocol: "Tcp"},
		{Name: "Allow-Backend-5001", Priority: 131, Port: "5001", Protocol: "Tcp"},
	}, rules)
}

func TestClusterModel_IsValidJSON(t *testing.T) {
	out, err := MustNew().ClusterModel(ClusterContext{
		ProjectName:         "shopapp",
		DNSPrefix:           "k8s-shopapp",
		Cloud:               CloudContext{Location: "local", AdminUsername: "ops", SSHPublicKey: `ssh-rsa "quoted"`, ClientID: "id", ClientSecret: "s"},
		Network:             identity.ClusterAddressPlan("shopapp"),
		OrchestratorRelease: "1.23",
		MasterVMSize:        "Standard_D2_v2",
		AgentVMSize:         "Standard_D2_v2",
		AgentCount:          2,
	})
	require.NoError(t, err)

	var model struct {
		Properties struct {
			MasterProfile struct {
				DNSPrefix string `json:"dnsPrefix"`
				VnetCidr  string `json:"vnetCidr"`
				FirstIP   string `json:"firstConsecutiveStaticIP"`
			} `json:"masterProfile"`
			LinuxProfile struct {
				SSH struct {
					PublicKeys []struct {
						KeyData string `json:"keyData"`
					} `json:"publicKeys"`
				} `json:"ssh"`
			} `json:"linuxProfile"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(out, &model))

	plan := identity.ClusterAddressPlan("shopapp")
	assert.Equal(t, "k8s-shopapp", model.Properties.MasterProfile.DNSPrefix)
	assert.Equal(t, plan.CIDR, model.Properties.MasterProfile.VnetCidr)
	assert.Equal(t, plan.FirstAddress, model.Properties.MasterProfile.FirstIP)
	assert.Equal(t, `ssh-rsa "quoted"`, model.Properties.LinuxProfile.SSH.PublicKeys[0].KeyData)
}

func playbookContext() PlaybookContext {
	return PlaybookContext{
		ProjectName:    "shopapp",
		Host:           "shopapp.example.net",
		AdminUsername:  "ops",
		PrivateKeyPath: "/tmp/ws/id_rsa",
		Registry:       "nexus:8082",
		RegistryUser:   "ci",
		Frontend:       Service{Name: "frontend", Image: "nexus:8082/shopapp:frontend-42", Port: FrontendPort},
		Backends: []Service{
			{Name: "orders", Image: "nexus:8082/shopapp:orders-42", Port: 5000},
			{Name: "pay", Image: "nexus:8082/shopapp:pay-42", Port: 5001},
		},
		ComposeFile: "/tmp/ws/docker-compose.yml",
	}
}

func TestVMPlaybook(t *testing.T) {
	out, err := MustNew().VMPlaybook(playbookContext())
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `remote_user: !unsafe "ops"`)
	assert.Contains(t, s, `src: !unsafe "/tmp/ws/docker-compose.yml"`)
	assert.Contains(t, s, `path: "{{ project_dir }}"`)
	assert.Contains(t, s, "        - 5000\n        - 5001")
}

func TestClusterPlaybook(t *testing.T) {
	out, err := MustNew().ClusterPlaybook(playbookContext())
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `image: !unsafe "nexus:8082/shopapp:frontend-42"`)
	assert.Contains(t, s, `image: !unsafe "nexus:8082/shopapp:pay-42"`)
	assert.Contains(t, s, `- name: !unsafe "Deploy orders"`)
	assert.Contains(t, s, "containerPort: 5001")
}

func TestComposeManifest(t *testing.T) {
	out, err := ComposeManifest(playbookContext())
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "nexus:8082/shopapp:orders-42")
	assert.Contains(t, s, "nexus:8082/shopapp:frontend-42")
	assert.Contains(t, s, "target: 5001")
	assert.Contains(t, s, "unless-stopped")
}

func TestWorkloads_FrontendFirst(t *testing.T) {
	ws := workloads(playbookContext())
	require.Len(t, ws, 3)
	assert.Equal(t, "frontend", ws[0].Name)
	assert.Equal(t, "pay", ws[2].Name)
}
