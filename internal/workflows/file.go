package workflows

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"curator/internal/services"
	"curator/internal/store"
)

type definitionDocument struct {
	Owner     string             `yaml:"owner"`
	Name      string             `yaml:"name"`
	DatasetID string             `yaml:"dataset_id,omitempty"`
	Steps     []store.StepConfig `yaml:"steps"`
}

// LoadDefinitionFile reads one or more YAML documents, separated by ---, each
// describing a workflow definition. Definitions are validated before return.
func LoadDefinitionFile(path string) ([]*store.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// ParseDefinitions decodes YAML definition documents from data.
func ParseDefinitions(data []byte) ([]*store.WorkflowDefinition, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var defs []*store.WorkflowDefinition
	for index := 0; ; index++ {
		var doc definitionDocument
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, services.Wrap(services.ErrInvalidWorkflow, "parse workflows",
				fmt.Sprintf("document %d", index+1), err)
		}
		def := &store.WorkflowDefinition{
			Owner:     doc.Owner,
			Name:      doc.Name,
			DatasetID: doc.DatasetID,
			Steps:     doc.Steps,
		}
		if err := normalize(def); err != nil {
			return nil, fmt.Errorf("document %d: %w", index+1, err)
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, services.Wrap(services.ErrInvalidWorkflow, "parse workflows", "no workflow documents found", nil)
	}
	return defs, nil
}

// MarshalDefinition renders def in the file format accepted by ParseDefinitions.
func MarshalDefinition(def *store.WorkflowDefinition) ([]byte, error) {
	return yaml.Marshal(definitionDocument{
		Owner:     def.Owner,
		Name:      def.Name,
		DatasetID: def.DatasetID,
		Steps:     def.Steps,
	})
}
