package routers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ngaut/log"
	"github.com/pkg/errors"

	"github.com/nvoc-project/nvoc/internal/gateway"
	"github.com/nvoc-project/nvoc/internal/models"
	"github.com/nvoc-project/nvoc/internal/profiles"
	"github.com/nvoc-project/nvoc/internal/xerrors"
)

type ProfileHandler struct {
	Gateway *gateway.Gateway
	Store   *profiles.Store
	Flags   *profiles.Flags
}

func (ph *ProfileHandler) RegisterRoute(g *gin.RouterGroup) {
	// saved profiles plus the builtins
	g.GET("/profiles", ph.List)

	g.GET("/profile/:name", ph.Get)
	g.POST("/profile", ph.Save)
	g.DELETE("/profile/:name", ph.Delete)

	// run the apply sequence inside one elevated helper invocation
	g.POST("/profile/:name/apply", ph.Apply)
	// snapshot the device's current settings as a new profile
	g.POST("/profile/from-current", ph.FromCurrent)

	g.GET("/profile/:name/export", ph.Export)
	g.POST("/profile/import", ph.Import)

	g.GET("/boot-profile", ph.GetBoot)
	g.PUT("/boot-profile", ph.SetBoot)
	g.DELETE("/boot-profile", ph.ClearBoot)
}

func (ph *ProfileHandler) List(c *gin.Context) {
	saved, err := ph.Store.List()
	if err != nil {
		log.Errorf("store.List failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeProfileListFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"profiles": saved,
		"builtins": profiles.Builtins(),
	})
}

func (ph *ProfileHandler) Get(c *gin.Context) {
	name := c.Param("name")
	if len(name) == 0 {
		log.Error("failed to get profile, name is empty")
		ResponseError(c, CodeProfileNameCannotBeEmpty)
		return
	}

	p, err := ph.Store.Load(name)
	if err != nil {
		log.Errorf("store.Load failed, original error: %T %v", errors.Cause(err), err)
		if xerrors.IsProfileNotFoundError(err) {
			ResponseError(c, CodeProfileNotFound)
			return
		}
		ResponseError(c, CodeProfileListFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"profile": p,
	})
}

func (ph *ProfileHandler) Save(c *gin.Context) {
	var p profiles.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		log.Error("failed to save profile, error:", err.Error())
		ResponseError(c, CodeInvalidParams)
		return
	}

	if len(p.Name) == 0 || len(profiles.Sanitize(p.Name)) == 0 {
		log.Error("failed to save profile, name is empty")
		ResponseError(c, CodeProfileNameCannotBeEmpty)
		return
	}

	if err := ph.Store.Save(&p); err != nil {
		log.Errorf("store.Save failed, original error: %T %v", errors.Cause(err), err)
		log.Errorf("stack trace: \n%+v\n", err)
		ResponseError(c, CodeProfileSaveFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"profile": p,
	})
}

func (ph *ProfileHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if len(name) == 0 {
		log.Error("failed to delete profile, name is empty")
		ResponseError(c, CodeProfileNameCannotBeEmpty)
		return
	}

	if err := ph.Store.Delete(name); err != nil {
		log.Errorf("store.Delete failed, original error: %T %v", errors.Cause(err), err)
		if xerrors.IsProfileNotFoundError(err) {
			ResponseError(c, CodeProfileNotFound)
			return
		}
		ResponseError(c, CodeProfileDeleteFailed)
		return
	}

	ResponseSuccess(c, nil)
}

func (ph *ProfileHandler) Apply(c *gin.Context) {
	name := c.Param("name")
	if len(name) == 0 {
		log.Error("failed to apply profile, name is empty")
		ResponseError(c, CodeProfileNameCannotBeEmpty)
		return
	}

	p, err := ph.loadOrBuiltin(name)
	if err != nil {
		log.Errorf("store.Load failed, original error: %T %v", errors.Cause(err), err)
		if xerrors.IsProfileNotFoundError(err) {
			ResponseError(c, CodeProfileNotFound)
			return
		}
		ResponseError(c, CodeProfileApplyFailed)
		return
	}

	if err := ph.Gateway.ApplyProfile(p); err != nil {
		log.Errorf("gateway.ApplyProfile failed, original error: %T %v", errors.Cause(err), err)
		log.Errorf("stack trace: \n%+v\n", err)
		if xerrors.IsThermalGuardTrippedError(err) {
			ResponseError(c, CodeGpuThermalGuard)
			return
		}
		if code, ok := elevationErrorCode(err); ok {
			ResponseError(c, code)
			return
		}
		ResponseError(c, CodeProfileApplyFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"applied": p.Name,
	})
}

// loadOrBuiltin resolves a saved profile first, falling back to the
// builtin of the same sanitized name.
func (ph *ProfileHandler) loadOrBuiltin(name string) (*profiles.Profile, error) {
	p, err := ph.Store.Load(name)
	if err == nil {
		return p, nil
	}
	if !xerrors.IsProfileNotFoundError(err) {
		return nil, err
	}

	want := profiles.Sanitize(name)
	for _, b := range profiles.Builtins() {
		if profiles.Sanitize(b.Name) == want {
			return b, nil
		}
	}
	return nil, err
}

func (ph *ProfileHandler) FromCurrent(c *gin.Context) {
	var spec models.ProfileFromCurrent
	if err := c.ShouldBindJSON(&spec); err != nil {
		log.Error("failed to capture profile, error:", err.Error())
		ResponseError(c, CodeInvalidParams)
		return
	}

	if len(spec.Name) == 0 || len(profiles.Sanitize(spec.Name)) == 0 {
		log.Error("failed to capture profile, name is empty")
		ResponseError(c, CodeProfileNameCannotBeEmpty)
		return
	}

	p, err := profiles.FromCurrent(spec.Name, spec.Description, ph.Gateway)
	if err != nil {
		log.Errorf("profiles.FromCurrent failed, original error: %T %v", errors.Cause(err), err)
		log.Errorf("stack trace: \n%+v\n", err)
		ResponseError(c, CodeProfileSaveFailed)
		return
	}

	if err := ph.Store.Save(p); err != nil {
		log.Errorf("store.Save failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeProfileSaveFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"profile": p,
	})
}

func (ph *ProfileHandler) Export(c *gin.Context) {
	name := c.Param("name")
	if len(name) == 0 {
		log.Error("failed to export profile, name is empty")
		ResponseError(c, CodeProfileNameCannotBeEmpty)
		return
	}

	data, err := ph.Store.ExportBytes(name)
	if err != nil {
		log.Errorf("store.ExportBytes failed, original error: %T %v", errors.Cause(err), err)
		if xerrors.IsProfileNotFoundError(err) {
			ResponseError(c, CodeProfileNotFound)
			return
		}
		ResponseError(c, CodeProfileExportFailed)
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

func (ph *ProfileHandler) Import(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil || len(data) == 0 {
		log.Error("failed to import profile, empty body")
		ResponseError(c, CodeInvalidParams)
		return
	}

	overwrite := c.Query("overwrite") == "true"
	p, err := ph.Store.ImportBytes(data, overwrite)
	if err != nil {
		log.Errorf("store.ImportBytes failed, original error: %T %v", errors.Cause(err), err)
		log.Errorf("stack trace: \n%+v\n", err)
		ResponseError(c, CodeProfileImportFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"profile": p,
	})
}

func (ph *ProfileHandler) GetBoot(c *gin.Context) {
	ResponseSuccess(c, gin.H{
		"bootProfile": ph.Flags.BootProfile(),
	})
}

func (ph *ProfileHandler) SetBoot(c *gin.Context) {
	var spec models.BootProfile
	if err := c.ShouldBindJSON(&spec); err != nil {
		log.Error("failed to set boot profile, error:", err.Error())
		ResponseError(c, CodeInvalidParams)
		return
	}

	if len(spec.Name) == 0 {
		log.Error("failed to set boot profile, name is empty")
		ResponseError(c, CodeProfileNameCannotBeEmpty)
		return
	}

	// the name must resolve before boot relies on it
	if _, err := ph.loadOrBuiltin(spec.Name); err != nil {
		log.Errorf("store.Load failed, original error: %T %v", errors.Cause(err), err)
		if xerrors.IsProfileNotFoundError(err) {
			ResponseError(c, CodeProfileNotFound)
			return
		}
		ResponseError(c, CodeBootProfileFailed)
		return
	}

	if err := ph.Flags.SetBootProfile(spec.Name); err != nil {
		log.Errorf("flags.SetBootProfile failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeBootProfileFailed)
		return
	}

	ResponseSuccess(c, gin.H{
		"bootProfile": spec.Name,
	})
}

func (ph *ProfileHandler) ClearBoot(c *gin.Context) {
	if err := ph.Flags.ClearBootProfile(); err != nil {
		log.Errorf("flags.ClearBootProfile failed, original error: %T %v", errors.Cause(err), err)
		ResponseError(c, CodeBootProfileFailed)
		return
	}

	ResponseSuccess(c, nil)
}
