// Package render turns typed contexts into the artifacts the pipeline hands
// to external tools: the CI pipeline definition, the infra declarations and
// the configuration playbooks. Templates are embedded in the binary.
//
// Untrusted values (repo URLs, tokens, names) only reach a template through
// the escaping functions groovy, hcl, json and yaml, each of which emits a
// complete quoted literal.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Template names.
const (
	TemplatePipeline        = "Jenkinsfile.groovy.tmpl"
	TemplateVMInfra         = "vm.tf.tmpl"
	TemplateClusterModel    = "cluster.json.tmpl"
	TemplateVMPlaybook      = "vm_playbook.yml.tmpl"
	TemplateClusterPlaybook = "k8s_deploy.yml.tmpl"
)

// Renderer executes the embedded templates.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	funcs := template.FuncMap{
		"groovy": groovyString,
		"hcl":    hclString,
		"json":   jsonString,
		"yaml":   yamlString,

		"workloads": workloads,
	}
	tmpl, err := template.New("").Option("missingkey=error").Funcs(funcs).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// MustNew is New for package initialization; the templates are compiled in,
// so a parse error is a programming error.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Render executes the named template with data.
func (r *Renderer) Render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	if len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return nil, fmt.Errorf("render %s: empty output", name)
	}
	return buf.Bytes(), nil
}

// Pipeline renders the CI pipeline definition.
func (r *Renderer) Pipeline(ctx PipelineContext) ([]byte, error) {
	return r.Render(TemplatePipeline, ctx)
}

// VMInfra renders the VM infra declaration (main.tf).
func (r *Renderer) VMInfra(ctx InfraContext) ([]byte, error) {
	return r.Render(TemplateVMInfra, ctx)
}

// ClusterModel renders the cluster api-model (cluster.json).
func (r *Renderer) ClusterModel(ctx ClusterContext) ([]byte, error) {
	return r.Render(TemplateClusterModel, ctx)
}

// VMPlaybook renders the playbook that starts the compose stack on a VM.
func (r *Renderer) VMPlaybook(ctx PlaybookContext) ([]byte, error) {
	return r.Render(TemplateVMPlaybook, ctx)
}

// ClusterPlaybook renders the playbook that applies workloads to a cluster.
func (r *Renderer) ClusterPlaybook(ctx PlaybookContext) ([]byte, error) {
	return r.Render(TemplateClusterPlaybook, ctx)
}
