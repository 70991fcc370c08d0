package rest_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateQuestPinLinksDocument(t *testing.T) {
	f := newFixture(t)
	gm := f.login(t, "gm", true)
	id := f.createQuest(t, "Flooded Cellar", cellarQuest)

	w := f.request(http.MethodPost, "/api/quests/"+id+"/pin", gm, map[string]interface{}{
		"sceneId": "scene-1", "x": 12.5, "y": 40.0,
	})
	require.Equal(t, http.StatusOK, w.Code)

	pin := decode(t, w)["pin"].(map[string]interface{})
	assert.NotEmpty(t, pin["id"])
	placement := pin["placement"].(map[string]interface{})
	assert.Equal(t, "scene-1", placement["sceneId"])

	link, err := f.docs.Linkage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, pin["id"], link.PinID)
	assert.Equal(t, "scene-1", link.SceneID)
}

func TestCreateQuestPinWithoutPlacement(t *testing.T) {
	f := newFixture(t)
	gm := f.login(t, "gm", true)
	id := f.createQuest(t, "Flooded Cellar", cellarQuest)

	w := f.request(http.MethodPost, "/api/quests/"+id+"/pin", gm, nil)
	require.Equal(t, http.StatusOK, w.Code)

	pin := decode(t, w)["pin"].(map[string]interface{})
	assert.NotEmpty(t, pin["id"])
	assert.Nil(t, pin["placement"])
}

func TestCreateObjectivePin(t *testing.T) {
	f := newFixture(t)
	gm := f.login(t, "gm", true)
	id := f.createQuest(t, "Flooded Cellar", cellarQuest)

	w := f.request(http.MethodPost, "/api/quests/"+id+"/objectives/1/pin", gm, map[string]interface{}{
		"sceneId": "scene-1", "x": 3.0, "y": 4.0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["pin"].(map[string]interface{})["id"])

	assert.Equal(t, http.StatusNotFound,
		f.request(http.MethodPost, "/api/quests/"+id+"/objectives/9/pin", gm, nil).Code)
}

func TestDeletePinsClearsLinkage(t *testing.T) {
	f := newFixture(t)
	gm := f.login(t, "gm", true)
	id := f.createQuest(t, "Flooded Cellar", cellarQuest)

	require.Equal(t, http.StatusOK, f.request(http.MethodPost, "/api/quests/"+id+"/pin", gm, map[string]interface{}{
		"sceneId": "scene-1", "x": 1.0, "y": 1.0,
	}).Code)

	w := f.request(http.MethodDelete, "/api/quests/"+id+"/pins", gm, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["processed"])

	link, err := f.docs.Linkage(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, link.PinID)
}

func TestUnplaceQuestPin(t *testing.T) {
	f := newFixture(t)
	gm := f.login(t, "gm", true)
	id := f.createQuest(t, "Flooded Cellar", cellarQuest)

	w := f.request(http.MethodPost, "/api/quests/"+id+"/pin", gm, map[string]interface{}{
		"sceneId": "scene-1", "x": 1.0, "y": 1.0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	pinID := decode(t, w)["pin"].(map[string]interface{})["id"].(string)

	require.Equal(t, http.StatusNoContent, f.request(http.MethodPost, "/api/quests/"+id+"/unplace", gm, nil).Code)

	// The pin record survives, only its placement is gone.
	link, err := f.docs.Linkage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, pinID, link.PinID)
	assert.Empty(t, link.SceneID)
}

func TestModuleVisibilityPerUser(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice", false)
	bob := f.login(t, "bob", false)

	assert.Equal(t, true, decode(t, f.request(http.MethodGet, "/api/pins/visibility", alice, nil))["visible"])

	w := f.request(http.MethodPut, "/api/pins/visibility", alice, map[string]bool{"visible": false})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, false, decode(t, f.request(http.MethodGet, "/api/pins/visibility", alice, nil))["visible"])
	assert.Equal(t, true, decode(t, f.request(http.MethodGet, "/api/pins/visibility", bob, nil))["visible"])
}
