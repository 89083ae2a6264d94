package jenkins

import (
	"encoding/xml"
	"fmt"
)

// Plugin versions recorded in generated job configs. Jenkins upgrades them
// in place on load, so these only need to be versions it recognises.
const (
	workflowJobPlugin = "workflow-job@2.40"
	workflowCPSPlugin = "workflow-cps@2.94"
)

type flowDefinition struct {
	XMLName          xml.Name      `xml:"flow-definition"`
	Plugin           string        `xml:"plugin,attr"`
	Actions          struct{}      `xml:"actions"`
	Description      string        `xml:"description"`
	KeepDependencies bool          `xml:"keepDependencies"`
	Properties       struct{}      `xml:"properties"`
	Definition       cpsDefinition `xml:"definition"`
	Triggers         struct{}      `xml:"triggers"`
	Disabled         bool          `xml:"disabled"`
}

type cpsDefinition struct {
	Class   string `xml:"class,attr"`
	Plugin  string `xml:"plugin,attr"`
	Script  cdata  `xml:"script"`
	Sandbox bool   `xml:"sandbox"`
}

type cdata struct {
	Text string `xml:",cdata"`
}

// PipelineConfig renders the config.xml of a sandboxed pipeline job whose
// script is the given Jenkinsfile.
func PipelineConfig(description, script string) ([]byte, error) {
	def := flowDefinition{
		Plugin:      workflowJobPlugin,
		Description: description,
		Definition: cpsDefinition{
			Class:   "org.jenkinsci.plugins.workflow.cps.CpsFlowDefinition",
			Plugin:  workflowCPSPlugin,
			Script:  cdata{Text: script},
			Sandbox: true,
		},
	}
	out, err := xml.MarshalIndent(def, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal job config: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
