package catalog

import "github.com/nmxmxh/otfkmc/internal/geomx"

// snapshot converts the catalogue into its persisted document form.
// Caller must hold at least c.mu.RLock().
func (c *Catalogue) snapshot() persistedDoc {
	doc := persistedDoc{
		REnv:     c.opt.REnv,
		DeltaMax: c.opt.DeltaMax,
		Size:     c.size,
	}
	for key, bucket := range c.buckets {
		pb := persistedBucket{
			CentreSpecies: int(key.CentreColour.Species),
			CentrePhase:   int(key.CentreColour.Phase),
			HistKey:       string(key.Bytes()),
		}
		for _, env := range bucket {
			pb.Envs = append(pb.Envs, persistEnv(env))
		}
		doc.Buckets = append(doc.Buckets, pb)
	}
	return doc
}

func persistEnv(env *Environment) persistedEnv {
	pe := persistedEnv{
		Delta:       env.Delta,
		DeltaMod:    env.DeltaMod,
		Freq:        env.Freq,
		RefineCount: env.RefineCount,
	}
	for _, a := range env.Reference.Atoms() {
		pe.Atoms = append(pe.Atoms, persistedAtom{
			X: a.Pos[0], Y: a.Pos[1], Z: a.Pos[2],
			Species: int(a.Colour.Species), Phase: int(a.Colour.Phase), Backref: a.Backref,
		})
	}
	for _, m := range env.Mechanisms {
		pm := persistedMech{Activation: m.ActivationEnergy, Delta: m.DeltaEnergy, Prefactor: m.Prefactor}
		for _, d := range m.Displacement {
			pm.Disp = append(pm.Disp, persistedAtom{X: d[0], Y: d[1], Z: d[2]})
		}
		pe.Mechs = append(pe.Mechs, pm)
	}
	return pe
}

// restore replaces the catalogue's contents with doc. Caller must hold
// c.mu (write lock).
func (c *Catalogue) restore(doc persistedDoc) {
	c.buckets = make(map[geomx.CanonKey][]*Environment, len(doc.Buckets))
	c.size = doc.Size
	c.filter = newDefaultFilter()

	for _, pb := range doc.Buckets {
		if len(pb.Envs) == 0 {
			continue
		}
		var envs []*Environment
		var canon geomx.CanonKey
		canonSet := false
		for _, pe := range pb.Envs {
			geo := geomx.NewGeometry(len(pe.Atoms))
			for _, a := range pe.Atoms {
				geo.Append(geomx.Vec3{a.X, a.Y, a.Z}, geomx.Colour{Species: geomx.Species(a.Species), Phase: geomx.Phase(a.Phase)}, a.Backref)
			}
			geo.Finalise()
			if !canonSet {
				canon = geo.DiscreteKey().Canon()
				canonSet = true
			}

			env := &Environment{
				Reference:   geo,
				Delta:       pe.Delta,
				DeltaMod:    pe.DeltaMod,
				Freq:        pe.Freq,
				RefineCount: pe.RefineCount,
			}
			for _, pm := range pe.Mechs {
				mech := Mechanism{ActivationEnergy: pm.Activation, DeltaEnergy: pm.Delta, Prefactor: pm.Prefactor}
				for _, d := range pm.Disp {
					mech.Displacement = append(mech.Displacement, geomx.Vec3{d.X, d.Y, d.Z})
				}
				env.Mechanisms = append(env.Mechanisms, mech)
			}
			envs = append(envs, env)
			c.filter.Add(bloomKey(geo.DiscreteKey()))
		}
		c.buckets[canon] = envs
	}
}
