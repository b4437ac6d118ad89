package schema

import (
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FromYAML reads additional kind schemas from r and registers them,
// overriding any built-in kind with the same name. The document maps kind
// names to field definitions:
//
//	banner:
//	  title: {type: string, required: true}
//	  link:  {type: url}
func (r *Registry) FromYAML(src io.Reader) error {
	raw, err := io.ReadAll(src)
	if err != nil {
		return eris.Wrap(err, "schema: read yaml")
	}

	var doc map[string]Schema
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return eris.Wrap(err, "schema: unmarshal yaml")
	}

	for kind, s := range doc {
		if len(s) == 0 {
			return eris.Errorf("schema: kind %q has no fields", kind)
		}
		if err := r.register(kind, s); err != nil {
			return err
		}
	}
	return nil
}
