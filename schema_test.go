package ldapmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaBuild(t *testing.T) {
	schema := personSchema()

	assert.Equal(t, "Person", schema.Name())
	assert.Equal(t, []string{"top", "inetOrgPerson"}, schema.ObjectClasses())
	assert.Equal(t, "uid", schema.PrimaryFieldName())
	assert.Equal(t, "uid", schema.PrimaryField().Info().LDAP)

	assert.Equal(t,
		[]string{"uid", "firstname", "lastname", "dept", "email", "uidNumber", "nicknames", "password", "created"},
		schema.FieldNames(), "declaration order is preserved")

	assert.NotContains(t, schema.NonSystemFieldNames(), "created")
	assert.Contains(t, schema.AttrList(), "createTimestamp",
		"system attributes are still requested on searches")
}

func TestSchemaAtMostOnePrimary(t *testing.T) {
	_, err := NewSchema("Broken").
		ObjectClasses("top").
		Field("uid", String("uid", Primary())).
		Field("cn", String("cn", Primary())).
		Build()

	var sErr *SchemaError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "Broken", sErr.Schema)
}

func TestSchemaExtends(t *testing.T) {
	base := NewSchema("Entry").
		ObjectClasses("top").
		SecondaryDNPrefix("ou=things").
		Field("uid", String("uid", Primary())).
		Field("name", String("cn")).
		Field("created", String("createTimestamp", System(), ReadOnly())).
		MustBuild()

	derived := NewSchema("Device").
		Extends(base).
		ObjectClasses("top", "device").
		Field("name", String("cn", Optional())).
		Field("serial", String("serialNumber")).
		MustBuild()

	assert.Equal(t, []string{"uid", "name", "created", "serial"},
		derived.FieldNames(), "an override keeps the parent's position")
	assert.True(t, derived.Field("name").Info().Optional,
		"an override replaces the parent's flags")
	assert.Equal(t, "uid", derived.PrimaryFieldName())
	assert.Equal(t, []string{"top", "device"}, derived.ObjectClasses())

	// Metadata not restated on the child is inherited.
	nodes := NewSchema("Widget").Extends(base).MustBuild()
	assert.Equal(t, []string{"top"}, nodes.ObjectClasses())
}

func TestObjectClassFilter(t *testing.T) {
	schema := personSchema()
	filter, err := schema.ObjectClassFilter()
	require.NoError(t, err)
	assert.Equal(t, "(&(objectClass=top)(objectClass=inetOrgPerson))", filter)
}

func TestObjectClassFilterExclusions(t *testing.T) {
	schema := NewSchema("ActivePerson").
		ObjectClasses("person").
		ExcludedObjectClasses("retiredPerson").
		Field("uid", String("uid", Primary())).
		MustBuild()

	filter, err := schema.ObjectClassFilter()
	require.NoError(t, err)
	assert.Equal(t, "(&(&(objectClass=person))(!(objectClass=retiredPerson)))", filter)
}

func TestObjectClassFilterRequiresClasses(t *testing.T) {
	schema := NewSchema("Bare").Field("uid", String("uid", Primary())).MustBuild()

	_, err := schema.ObjectClassFilter()
	assert.Error(t, err)
}

func TestExpandTemplate(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		args    map[string]string
		want    string
		wantErr string
	}{
		{
			name: "single key",
			tmpl: "uid={uid},ou=people",
			args: map[string]string{"uid": "liam"},
			want: "uid=liam,ou=people",
		},
		{
			name: "multiple keys",
			tmpl: "cn={cn},ou={dept}",
			args: map[string]string{"cn": "fred", "dept": "devices"},
			want: "cn=fred,ou=devices",
		},
		{
			name: "values are DN-escaped",
			tmpl: "cn={cn}",
			args: map[string]string{"cn": "Doe, John"},
			want: "cn=Doe\\, John",
		},
		{
			name: "no placeholders",
			tmpl: "ou=people",
			args: map[string]string{},
			want: "ou=people",
		},
		{
			name:    "missing key is named",
			tmpl:    "uid={uid},ou={dept}",
			args:    map[string]string{"uid": "liam"},
			wantErr: `no value for key "dept"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandTemplate(tt.tmpl, tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
