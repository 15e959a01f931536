package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
)

// BindNestedOrFlat binds the request body to obj. A body shaped like
// {"<key>": {...}} binds the nested object; any other object binds as a whole.
// An empty body leaves obj untouched.
func BindNestedOrFlat(c *gin.Context, key string, obj interface{}) error {
	var bodyBytes []byte
	if c.Request.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(c.Request.Body)
		if err != nil {
			return err
		}
	}
	// Restore body for future binding or subsequent reads
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	if len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}

	var nestedMap map[string]json.RawMessage
	if err := json.Unmarshal(bodyBytes, &nestedMap); err != nil {
		return errors.New("el cuerpo debe ser un objeto JSON")
	}
	if val, ok := nestedMap[key]; ok {
		return json.Unmarshal(val, obj)
	}
	return json.Unmarshal(bodyBytes, obj)
}
