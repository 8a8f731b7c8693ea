// Package dcshare is the module root: LoadConfig reads the YAML
// configuration file a cmd/dcshare entrypoint hands to session.New,
// grounded on the teacher's LoadConfig pattern (default value struct,
// overlaid by an optional file, missing file is not an error).
package dcshare

import (
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/kprimus/dcshare/session"
)

// LoadConfig reads filename as YAML over session.DefaultConfig. A missing
// file is not an error: callers get the defaults.
func LoadConfig(filename string) (*session.Config, error) {
	c := session.DefaultConfig
	b, err := ioutil.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
