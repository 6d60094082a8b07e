package file

import (
	"fmt"
	"reflect"
	"time"

	"gopkg.in/ini.v1"

	"github.com/blocknative/devnode/cmd/devnode/config"
	"github.com/blocknative/devnode/structs"
)

var durationType = reflect.TypeOf(time.Duration(0))

type propagator interface {
	Propagate(structs.OldNew) error
}

type Source struct {
	filepath string
}

func NewSource(filepath string) (s *Source) {
	return &Source{
		filepath: filepath,
	}
}

// Load reads the ini file into c. Unknown sections and keys are errors.
// When initial is false only fields tagged reload:"true" are updated;
// changes to the others take effect on restart.
func (s *Source) Load(c *config.Config, initial bool) error {
	f, err := ini.Load(s.filepath)
	if err != nil {
		return err
	}
	return apply(f, c, initial)
}

func apply(f *ini.File, c *config.Config, initial bool) error {
	elem := reflect.ValueOf(c).Elem()
	t := elem.Type()

	sections := make(map[string]reflect.Value, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if name, ok := t.Field(i).Tag.Lookup("config"); ok {
			sections[name] = elem.Field(i)
		}
	}

	for _, sec := range f.Sections() {
		name := sec.Name()
		sv, ok := sections[name]
		if !ok {
			if name == ini.DefaultSection && len(sec.Keys()) == 0 {
				continue
			}
			return fmt.Errorf("unknown section [%s]", name)
		}

		if sv.IsNil() {
			sv.Set(reflect.New(sv.Type().Elem()))
		}
		if err := applySection(sec, name, sv, initial); err != nil {
			return err
		}
	}
	return nil
}

func applySection(sec *ini.Section, name string, sv reflect.Value, initial bool) error {
	el := sv.Elem()
	t := el.Type()

	fields := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if key, ok := t.Field(i).Tag.Lookup("config"); ok {
			fields[key] = i
		}
	}

	for _, k := range sec.Keys() {
		i, ok := fields[k.Name()]
		if !ok {
			return fmt.Errorf("unknown key %s in [%s]", k.Name(), name)
		}

		f := t.Field(i)
		v, err := parseValue(k, f.Type)
		if err != nil {
			return fmt.Errorf("[%s] %s: %w", name, k.Name(), err)
		}

		cur := el.Field(i)
		if initial {
			cur.Set(v)
			continue
		}

		if f.Tag.Get("reload") != "true" || reflect.DeepEqual(cur.Interface(), v.Interface()) {
			continue
		}

		old := cur.Interface()
		cur.Set(v)
		if p, ok := sv.Interface().(propagator); ok {
			if err := p.Propagate(structs.OldNew{
				ParentPath: name,
				Name:       f.Name,
				Old:        old,
				New:        v.Interface(),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseValue(k *ini.Key, t reflect.Type) (reflect.Value, error) {
	if t == durationType {
		d, err := k.Duration()
		return reflect.ValueOf(d), err
	}

	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		b, err := k.Bool()
		if err != nil {
			return v, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		i, err := k.Int64()
		if err != nil {
			return v, err
		}
		v.SetInt(i)
	case reflect.Uint64:
		u, err := k.Uint64()
		if err != nil {
			return v, err
		}
		v.SetUint(u)
	case reflect.String:
		v.SetString(k.String())
	default:
		return v, fmt.Errorf("unsupported type %s", t)
	}
	return v, nil
}
