package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/golobby/cast"
)

// EnvFeeder reads environment variables named by `env` struct tags. With a
// prefix and/or suffix set, BLUEBERRY + "_" + TAG + "_" + SUFFIX is read.
type EnvFeeder struct {
	verbose
	Prefix string
	Suffix string
}

// NewEnvFeeder creates a feeder for plain `env` tags.
func NewEnvFeeder() *EnvFeeder {
	return &EnvFeeder{}
}

// NewAffixedEnvFeeder creates a new EnvFeeder with the specified prefix and suffix
func NewAffixedEnvFeeder(prefix, suffix string) *EnvFeeder {
	return &EnvFeeder{Prefix: prefix, Suffix: suffix}
}

// Feed reads environment variables and populates the provided structure
func (f *EnvFeeder) Feed(structure any) error {
	inputType := reflect.TypeOf(structure)
	if inputType == nil || inputType.Kind() != reflect.Pointer || inputType.Elem().Kind() != reflect.Struct {
		return ErrEnvInvalidStructure
	}
	return f.processStructFields(reflect.ValueOf(structure).Elem())
}

// processStructFields iterates through struct fields
func (f *EnvFeeder) processStructFields(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}
		if err := f.processField(field, &fieldType); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

// processField handles a single struct field
func (f *EnvFeeder) processField(field reflect.Value, fieldType *reflect.StructField) error {
	switch field.Kind() {
	case reflect.Struct:
		return f.processStructFields(field)
	case reflect.Pointer:
		if field.Type().Elem().Kind() == reflect.Struct {
			if field.IsNil() {
				return nil
			}
			return f.processStructFields(field.Elem())
		}
	}
	if envTag, exists := fieldType.Tag.Lookup("env"); exists {
		return f.setFieldFromEnv(field, envTag)
	}
	return nil
}

func (f *EnvFeeder) envName(tag string) string {
	name := strings.ToUpper(tag)
	if f.Prefix != "" {
		name = strings.ToUpper(strings.TrimSuffix(f.Prefix, "_")) + "_" + name
	}
	if f.Suffix != "" {
		name = name + "_" + strings.ToUpper(strings.TrimPrefix(f.Suffix, "_"))
	}
	return name
}

// setFieldFromEnv sets a field value from an environment variable
func (f *EnvFeeder) setFieldFromEnv(field reflect.Value, envTag string) error {
	envName := f.envName(envTag)
	envValue, ok := os.LookupEnv(envName)
	if !ok || envValue == "" {
		return nil
	}
	f.debug("EnvFeeder: Setting field from environment", "envName", envName)
	return setFieldValue(field, envValue)
}

// setFieldValue converts and sets a field value. Pointer fields receive a
// freshly allocated value.
func setFieldValue(field reflect.Value, strValue string) error {
	if !field.CanSet() {
		return ErrEnvFieldCannotBeSet
	}
	target := field.Type()
	if target.Kind() == reflect.Pointer {
		target = target.Elem()
	}

	convertedValue, err := cast.FromType(strValue, target)
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", target, err)
	}

	v := reflect.ValueOf(convertedValue).Convert(target)
	if field.Kind() == reflect.Pointer {
		ptr := reflect.New(target)
		ptr.Elem().Set(v)
		field.Set(ptr)
		return nil
	}
	field.Set(v)
	return nil
}
