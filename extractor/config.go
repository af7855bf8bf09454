package extractor

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// AttributeMap is a loosely typed bag of backend configuration attributes,
// typically read from a JSON config or CLI flags.
type AttributeMap map[string]interface{}

// DecodeAttributes decodes an attribute map into a backend's typed config
// struct, matching on the struct's json tags.
func DecodeAttributes(attrs AttributeMap, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]interface{}(attrs)); err != nil {
		return errors.Wrap(err, "could not decode backend attributes")
	}
	return nil
}
